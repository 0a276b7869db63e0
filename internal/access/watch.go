package access

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/hedgehog/pluto/internal/event"
)

// watchMessage is what the socket pushes for each matching VariableUpdate.
type watchMessage struct {
	Component string    `json:"component"`
	Variable  string    `json:"variable"`
	Value     any       `json:"value"`
	Time      time.Time `json:"time"`
}

// watchVariable upgrades the connection and streams VariableUpdate events
// for component/variable as they occur. This is a live view only: nothing
// observed before the upgrade or after the socket closes is replayed or
// retained, deliberately not a recorder.
func (s *Servicer) watchVariable(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, variable := vars["name"], vars["variable"]

	if _, err := s.registry.ListVariables(name); err != nil {
		writeError(w, err, requestID(r), time.Now())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan event.VariableUpdate, 16)
	handler := func(_ context.Context, e event.Event) error {
		u := e.(event.VariableUpdate)
		if u.Component != name || u.Variable != variable {
			return nil
		}
		select {
		case updates <- u:
		default:
			// Slow reader: drop rather than block the bus.
		}
		return nil
	}

	s.bus.On(event.VariableUpdate{}, handler)
	defer func() { _ = s.bus.Off(event.VariableUpdate{}, handler) }()

	// Detect the peer closing the socket so we stop pushing.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			msg := watchMessage{Component: u.Component, Variable: u.Variable, Value: u.Value, Time: time.Now()}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
