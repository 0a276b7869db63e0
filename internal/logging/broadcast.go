package logging

import (
	"context"

	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/eventbus"
)

// Broadcaster is a Component that republishes every log line it receives
// as a VariableUpdate on its LastMessage variable, so any bus observer (the
// access surface's websocket watch, an AttributesWatcher, ...) can follow
// the framework's own log stream without a separate transport.
type Broadcaster struct {
	component.Base
	LastMessage string
}

// NewBroadcaster builds a log Broadcaster named name on bus; the caller
// still needs to Registry.Register it. Attach its Sink() to a Logger via
// Logger.AddSink to have log lines flow through it.
func NewBroadcaster(name string, bus *eventbus.Bus) *Broadcaster {
	return &Broadcaster{Base: component.NewBase(name, bus)}
}

func (b *Broadcaster) Describe() ([]string, []string) {
	return nil, []string{"LastMessage"}
}

func (b *Broadcaster) Stop() {}

// Sink returns an io.Writer suitable for formattingWriter's `out` field
// (or any other line-oriented writer) that publishes each write as the
// LastMessage variable.
func (b *Broadcaster) Sink() *broadcastWriter {
	return &broadcastWriter{broadcaster: b}
}

type broadcastWriter struct {
	broadcaster *Broadcaster
}

func (w *broadcastWriter) Write(p []byte) (int, error) {
	msg := string(p)
	for len(msg) > 0 && (msg[len(msg)-1] == '\n' || msg[len(msg)-1] == '\r') {
		msg = msg[:len(msg)-1]
	}
	if msg == "" {
		return len(p), nil
	}

	bus := w.broadcaster.Bus()
	if bus != nil {
		_ = component.SetVariableViaBus(context.Background(), bus, w.broadcaster.Name(), "LastMessage", msg)
	}
	return len(p), nil
}
