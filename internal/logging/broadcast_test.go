package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/event"
	"github.com/hedgehog/pluto/internal/eventbus"
)

func TestBroadcasterPublishesVariableUpdateOnWrite(t *testing.T) {
	bus := eventbus.New(nil, nil)
	reg := component.NewRegistry(bus)
	b := NewBroadcaster("logger", bus)
	require.NoError(t, reg.Register(b))

	received := make(chan event.VariableUpdate, 1)
	bus.On(event.VariableUpdate{}, func(_ context.Context, e event.Event) error {
		received <- e.(event.VariableUpdate)
		return nil
	})

	sink := b.Sink()
	_, err := sink.Write([]byte("a log line\n"))
	require.NoError(t, err)

	update := <-received
	assert.Equal(t, "logger", update.Component)
	assert.Equal(t, "LastMessage", update.Variable)
	assert.Equal(t, "a log line", update.Value)
	assert.Equal(t, "a log line", b.LastMessage)
}

func TestBroadcasterSkipsBlankLines(t *testing.T) {
	bus := eventbus.New(nil, nil)
	reg := component.NewRegistry(bus)
	b := NewBroadcaster("logger", bus)
	require.NoError(t, reg.Register(b))

	calls := 0
	bus.On(event.VariableUpdate{}, func(_ context.Context, _ event.Event) error {
		calls++
		return nil
	})

	sink := b.Sink()
	_, err := sink.Write([]byte("\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}
