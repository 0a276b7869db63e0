package instructions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/eventbus"
)

func TestWaitSecondsCompletesNaturally(t *testing.T) {
	bus := eventbus.New(nil, nil)
	w := NewWaitSeconds(10 * time.Millisecond)

	result, err := w.Run(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestWaitSecondsStoppedEarlyStillReturnsTrue(t *testing.T) {
	bus := eventbus.New(nil, nil)
	w := NewWaitSeconds(time.Hour)

	done := make(chan any, 1)
	go func() {
		result, err := w.Run(context.Background(), bus)
		require.NoError(t, err)
		done <- result
	}()

	time.Sleep(10 * time.Millisecond)
	w.Stop()

	select {
	case result := <-done:
		assert.Equal(t, true, result)
	case <-time.After(time.Second):
		t.Fatal("WaitSeconds did not unblock after Stop")
	}
}

func TestWaitAttributesWithinRangeWaitsForStability(t *testing.T) {
	bus := eventbus.New(nil, nil)
	reg := component.NewRegistry(bus)
	fake := newFakeComponent("fake", bus)
	fake.Bar = 100 // out of [0, 10] range
	require.NoError(t, reg.Register(fake))

	w := NewWaitAttributesWithinRange("fake", []string{"Bar"}, 20*time.Millisecond, time.Second, 0, 10)

	done := make(chan any, 1)
	go func() {
		result, err := w.Run(context.Background(), bus)
		require.NoError(t, err)
		done <- result
	}()

	time.Sleep(30 * time.Millisecond)
	fake.Bar = 5 // enter range

	select {
	case result := <-done:
		assert.Equal(t, true, result)
	case <-time.After(time.Second):
		t.Fatal("WaitAttributesWithinRange never stabilized")
	}
}

func TestWaitAttributesWithinRangeTimesOutWhenNeverInRange(t *testing.T) {
	bus := eventbus.New(nil, nil)
	reg := component.NewRegistry(bus)
	fake := newFakeComponent("fake", bus)
	fake.Bar = 100
	require.NoError(t, reg.Register(fake))

	w := NewWaitAttributesWithinRange("fake", []string{"Bar"}, 20*time.Millisecond, 30*time.Millisecond, 0, 10)
	result, err := w.Run(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestWaitAttributesWithinRangeFailsFastOnUnknownAttribute(t *testing.T) {
	bus := eventbus.New(nil, nil)
	reg := component.NewRegistry(bus)
	require.NoError(t, reg.Register(newFakeComponent("fake", bus)))

	w := NewWaitAttributesWithinRange("fake", []string{"NoSuchAttribute"}, 10*time.Millisecond, time.Hour, 0, 10)
	result, err := w.Run(context.Background(), bus)

	assert.ErrorIs(t, err, errs.ErrAttribute)
	assert.Nil(t, result)
}

func TestWaitAttributesGreaterThanWaitsForThreshold(t *testing.T) {
	bus := eventbus.New(nil, nil)
	reg := component.NewRegistry(bus)
	fake := newFakeComponent("fake", bus)
	fake.Bar = 0
	require.NoError(t, reg.Register(fake))

	w := NewWaitAttributesGreaterThan("fake", []string{"Bar"}, 10*time.Millisecond, time.Second, 50)

	done := make(chan any, 1)
	go func() {
		result, err := w.Run(context.Background(), bus)
		require.NoError(t, err)
		done <- result
	}()

	time.Sleep(20 * time.Millisecond)
	fake.Bar = 75

	select {
	case result := <-done:
		assert.Equal(t, true, result)
	case <-time.After(time.Second):
		t.Fatal("WaitAttributesGreaterThan never crossed the threshold")
	}
}

func TestWaitAttributesGreaterThanStoppedEarly(t *testing.T) {
	bus := eventbus.New(nil, nil)
	reg := component.NewRegistry(bus)
	fake := newFakeComponent("fake", bus)
	require.NoError(t, reg.Register(fake))

	w := NewWaitAttributesGreaterThan("fake", []string{"Bar"}, 10*time.Millisecond, time.Hour, 50)

	done := make(chan any, 1)
	go func() {
		result, _ := w.Run(context.Background(), bus)
		done <- result
	}()

	time.Sleep(10 * time.Millisecond)
	w.Stop()

	select {
	case result := <-done:
		assert.Equal(t, true, result)
	case <-time.After(time.Second):
		t.Fatal("WaitAttributesGreaterThan did not unblock after Stop")
	}
}
