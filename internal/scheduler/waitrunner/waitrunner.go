// Package waitrunner implements the wait primitives the Wait* instructions
// race against each other: a plain timer, a timeout, a watched stop signal,
// a watched event class, and an attribute-stability poller. ExecuteWait runs
// a set of WaitRunners concurrently and returns the result of whichever
// finishes first, stopping the rest.
package waitrunner

import (
	"context"
	"sync"
	"time"

	"github.com/hedgehog/pluto/internal/event"
	"github.com/hedgehog/pluto/internal/eventbus"
)

// WaitRunner blocks until either its own condition is satisfied or
// stopRunning is closed, then returns whether its condition was satisfied.
type WaitRunner interface {
	Run(stopRunning <-chan struct{}) bool
}

// ExecuteWait runs every runner concurrently and returns the result of
// whichever finishes first; once one finishes, the others are told to stop
// via the shared stopRunning channel. ExecuteWait itself blocks until every
// runner has actually returned, so it never leaks goroutines.
func ExecuteWait(runners []WaitRunner) bool {
	stopRunning := make(chan struct{})
	var stopOnce sync.Once
	var resultOnce sync.Once
	var result bool
	var wg sync.WaitGroup

	for _, r := range runners {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.Run(stopRunning)
			resultOnce.Do(func() {
				result = res
				stopOnce.Do(func() { close(stopRunning) })
			})
		}()
	}
	wg.Wait()
	return result
}

// BlockingWait blocks for a fixed duration, returning true if it ran to
// completion or false if stopRunning fired first.
type BlockingWait struct {
	For time.Duration
}

func (w BlockingWait) Run(stopRunning <-chan struct{}) bool {
	select {
	case <-time.After(w.For):
		return true
	case <-stopRunning:
		return false
	}
}

// TimeoutWait races a deadline against the other runners in the set: if its
// own timer fires first, the wait has genuinely timed out (false); if
// stopRunning fires first, some other runner won the race, so this one was
// woken early (true). This is the opposite of BlockingWait, which reports
// false when woken early.
type TimeoutWait struct {
	Timeout time.Duration
}

func (w TimeoutWait) Run(stopRunning <-chan struct{}) bool {
	select {
	case <-time.After(w.Timeout):
		return false
	case <-stopRunning:
		return true
	}
}

// StopEventWatcher watches an externally-owned stop channel (an
// instruction's own Stop()) and returns true the moment it closes.
type StopEventWatcher struct {
	Stop <-chan struct{}
}

func (w StopEventWatcher) Run(stopRunning <-chan struct{}) bool {
	select {
	case <-w.Stop:
		return true
	case <-stopRunning:
		return false
	}
}

// EventBusWatcher watches the bus for the first event whose concrete type
// matches Sample, returning true as soon as one is posted.
type EventBusWatcher struct {
	Bus    *eventbus.Bus
	Sample event.Event
}

func (w EventBusWatcher) Run(stopRunning <-chan struct{}) bool {
	posted := make(chan struct{})
	var once sync.Once
	handler := func(_ context.Context, _ event.Event) error {
		once.Do(func() { close(posted) })
		return nil
	}

	w.Bus.On(w.Sample, handler)
	defer func() { _ = w.Bus.Off(w.Sample, handler) }()

	select {
	case <-posted:
		return true
	case <-stopRunning:
		return false
	}
}

// Attribute is one monitored value: a getter plus a range predicate.
type Attribute interface {
	Value() any
	InRange() bool
}

type attribute struct {
	get     func() any
	inRange func(v any) bool
}

func (a *attribute) Value() any    { return a.get() }
func (a *attribute) InRange() bool { return a.inRange(a.get()) }

// NewAttribute builds an Attribute from a getter and a range predicate that
// receives the current value.
func NewAttribute(get func() any, inRange func(value any) bool) Attribute {
	return &attribute{get: get, inRange: inRange}
}

const defaultPollInterval = 500 * time.Millisecond

// AttributesWatcher polls a set of Attributes and returns true once they
// have ALL been continuously in range for StableFor. If they fall out of
// range before becoming stable, the stability timer resets.
type AttributesWatcher struct {
	Attributes   []Attribute
	StableFor    time.Duration
	PollInterval time.Duration
}

func (w AttributesWatcher) Run(stopRunning <-chan struct{}) bool {
	poll := w.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var timer *time.Timer
	var stable chan struct{}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			stable = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-stopRunning:
			return false
		case <-stable:
			return true
		case <-ticker.C:
			if w.allInRange() {
				if timer == nil {
					ch := make(chan struct{})
					stable = ch
					timer = time.AfterFunc(w.StableFor, func() { close(ch) })
				}
			} else {
				stopTimer()
			}
		}
	}
}

func (w AttributesWatcher) allInRange() bool {
	for _, a := range w.Attributes {
		if !a.InRange() {
			return false
		}
	}
	return true
}
