package access

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/eventbus"
)

// Servicer is the REST+websocket façade over a component.Registry. It holds
// no state of its own: every handler is a thin translation to a Registry
// call, same division of responsibility as the source project's delegator.
type Servicer struct {
	registry *component.Registry
	bus      *eventbus.Bus
	upgrader websocket.Upgrader
}

// New builds a Servicer over registry. bus must be the same bus registry
// was constructed with; the watch endpoint subscribes to it directly since
// the registry itself exposes no bus accessor.
func New(registry *component.Registry, bus *eventbus.Bus) *Servicer {
	return &Servicer{
		registry: registry,
		bus:      bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The watch stream is read by dashboards and CLIs on arbitrary
			// origins; it carries no credentials, so we don't gate it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the gorilla/mux router serving every access-surface route.
func (s *Servicer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/components", s.listComponents).Methods(http.MethodGet)
	r.HandleFunc("/components/{name}/methods", s.listMethods).Methods(http.MethodGet)
	r.HandleFunc("/components/{name}/variables", s.listVariables).Methods(http.MethodGet)
	r.HandleFunc("/components/{name}/call/{method}", s.callMethod).Methods(http.MethodPost)
	r.HandleFunc("/components/{name}/variables/{variable}", s.getVariable).Methods(http.MethodGet)
	r.HandleFunc("/components/{name}/variables/{variable}", s.setVariable).Methods(http.MethodPut)
	r.HandleFunc("/components/{name}/variables/{variable}/watch", s.watchVariable)
	return r
}

func (s *Servicer) listComponents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	writeJSON(w, http.StatusOK, ok(s.registry.ListComponents(), requestID(r), start))
}

func (s *Servicer) listMethods(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := mux.Vars(r)["name"]
	methods, err := s.registry.ListMethods(name)
	if err != nil {
		writeError(w, err, requestID(r), start)
		return
	}
	writeJSON(w, http.StatusOK, ok(methods, requestID(r), start))
}

func (s *Servicer) listVariables(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := mux.Vars(r)["name"]
	variables, err := s.registry.ListVariables(name)
	if err != nil {
		writeError(w, err, requestID(r), start)
		return
	}
	writeJSON(w, http.StatusOK, ok(variables, requestID(r), start))
}

func (s *Servicer) callMethod(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)

	var req callRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errs.Wrap(errs.ErrBadParameters, "invalid request body: %v", err), requestID(r), start)
			return
		}
	}

	result, err := s.registry.CallMethod(vars["name"], vars["method"], req.Args)
	if err != nil {
		writeError(w, err, requestID(r), start)
		return
	}
	writeJSON(w, http.StatusOK, ok(result, requestID(r), start))
}

func (s *Servicer) getVariable(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	value, err := s.registry.GetVariable(vars["name"], vars["variable"])
	if err != nil {
		writeError(w, err, requestID(r), start)
		return
	}
	writeJSON(w, http.StatusOK, ok(value, requestID(r), start))
}

func (s *Servicer) setVariable(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)

	var req variableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Wrap(errs.ErrBadParameters, "invalid request body: %v", err), requestID(r), start)
		return
	}

	if err := s.registry.SetVariable(r.Context(), vars["name"], vars["variable"], req.Value); err != nil {
		writeError(w, err, requestID(r), start)
		return
	}
	writeJSON(w, http.StatusOK, ok(nil, requestID(r), start))
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error, reqID string, start time.Time) {
	writeJSON(w, statusFor(err), fail(err, reqID, start))
}

// statusFor maps the framework's sentinel error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnknownComponent):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAttribute):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrBadParameters):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrDuplicateRegistration):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
