package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/event"
)

func TestPostDeliversToRegisteredType(t *testing.T) {
	bus := New(nil, nil)
	var got event.Event
	var mu sync.Mutex

	bus.On(event.Stop{}, func(_ context.Context, e event.Event) error {
		mu.Lock()
		got = e
		mu.Unlock()
		return nil
	})

	err := bus.Post(context.Background(), event.Stop{Kind: event.StopUser}, true)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, event.StopUser, got.(event.Stop).Kind)
}

func TestPostNoHandlersIsNotAnError(t *testing.T) {
	bus := New(nil, nil)
	err := bus.Post(context.Background(), event.Stop{}, true)
	assert.NoError(t, err)
}

func TestPostWaitTrueReturnsFirstHandlerError(t *testing.T) {
	bus := New(nil, nil)
	boom := errors.New("boom")

	bus.On(event.VariableUpdate{}, func(context.Context, event.Event) error { return nil })
	bus.On(event.VariableUpdate{}, func(context.Context, event.Event) error { return boom })

	err := bus.Post(context.Background(), event.VariableUpdate{Component: "c", Variable: "v"}, true)
	assert.ErrorIs(t, err, boom)
}

func TestRecordableEventsFanOutToRecordableMarker(t *testing.T) {
	bus := New(nil, nil)
	var directCount, recordableCount int32

	bus.On(event.VariableUpdate{}, func(context.Context, event.Event) error {
		atomic.AddInt32(&directCount, 1)
		return nil
	})
	bus.On(event.Recordable{}, func(context.Context, event.Event) error {
		atomic.AddInt32(&recordableCount, 1)
		return nil
	})

	err := bus.Post(context.Background(), event.VariableUpdate{Component: "c", Variable: "v"}, true)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&directCount))
	assert.EqualValues(t, 1, atomic.LoadInt32(&recordableCount))
}

func TestNonRecordableEventsDoNotReachRecordableMarker(t *testing.T) {
	bus := New(nil, nil)
	var recordableCount int32

	bus.On(event.Recordable{}, func(context.Context, event.Event) error {
		atomic.AddInt32(&recordableCount, 1)
		return nil
	})

	err := bus.Post(context.Background(), event.Stop{}, true)
	require.NoError(t, err)
	assert.EqualValues(t, 0, atomic.LoadInt32(&recordableCount))
}

type countingErrCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingErrCounter) IncHandlerError(eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[eventType]++
}

func TestPostWaitFalseCountsErrorsAndDoesNotBlock(t *testing.T) {
	counter := &countingErrCounter{}
	bus := New(counter, nil)

	release := make(chan struct{})
	bus.On(event.Stop{}, func(context.Context, event.Event) error {
		<-release
		return errors.New("async failure")
	})

	start := time.Now()
	err := bus.Post(context.Background(), event.Stop{}, false)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(release)
	bus.Stop()

	counter.mu.Lock()
	defer counter.mu.Unlock()
	assert.Equal(t, 1, counter.counts["event.Stop"])
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bus := New(nil, nil)
	bus.On(event.Stop{}, func(context.Context, event.Event) error {
		panic("handler blew up")
	})

	err := bus.Post(context.Background(), event.Stop{}, true)
	assert.Error(t, err)
}

func TestOffRemovesHandler(t *testing.T) {
	bus := New(nil, nil)
	var calls int32
	h := func(context.Context, event.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	bus.On(event.Stop{}, h)
	require.NoError(t, bus.Off(event.Stop{}, h))

	err := bus.Post(context.Background(), event.Stop{}, true)
	require.NoError(t, err)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestOffUnregisteredHandlerReturnsError(t *testing.T) {
	bus := New(nil, nil)
	h := func(context.Context, event.Event) error { return nil }

	err := bus.Off(event.Stop{}, h)
	assert.ErrorIs(t, err, errs.ErrHandlerNotRegistered)

	bus.On(event.Stop{}, h)
	require.NoError(t, bus.Off(event.Stop{}, h))

	err = bus.Off(event.Stop{}, h)
	assert.ErrorIs(t, err, errs.ErrHandlerNotRegistered)
}
