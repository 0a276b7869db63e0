// Package eventbus implements the in-process publish/dispatch hub that
// every component, instruction and servicer in Pluto talks through.
//
// Handlers register against the concrete Go type of the events they want to
// observe (mirroring dispatch on type(event) in the source project), plus an
// optional registration against the Recordable marker to observe every
// recordable event regardless of its concrete type. Post can either block
// until every handler has run and return the first handler error
// (wait=true, used by request/reply events and anything whose caller needs
// to know the outcome), or fire handlers asynchronously against a bounded
// worker pool and drop errors other than counting them (wait=false).
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/event"
)

// Handler observes one event. Returning an error only has an effect when the
// event was posted with wait=true; for wait=false posts the error is
// recorded (see ErrorCounter) and otherwise dropped.
type Handler func(ctx context.Context, e event.Event) error

// ErrorCounter is notified whenever a fire-and-forget handler returns an
// error. Wired to a Prometheus counter by the application bootstrap; nil is
// fine in tests.
type ErrorCounter interface {
	IncHandlerError(eventType string)
}

// DispatchObserver is notified once per Post call, after dispatch. Wired to
// the Prometheus dispatch counter by the application bootstrap; nil is fine
// in tests.
type DispatchObserver interface {
	ObserveDispatch(eventType string, handlerCount int, err error)
}

// Bus is the concrete, in-memory event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]Handler

	sem chan struct{}

	errCounter ErrorCounter
	observer   DispatchObserver

	wg       sync.WaitGroup
	stopOnce sync.Once
	closed   chan struct{}
}

// New creates a Bus with a shared worker pool sized to the host, per the
// framework's "single bounded pool for unbounded fan-out" policy: Parallel
// and Repeat* launch goroutines directly and rely on their own WaitGroup to
// bound join behavior, but the bus is the one place an arbitrary number of
// subscribers can be woken by a single Post, so it gets the pool.
func New(errCounter ErrorCounter, observer DispatchObserver) *Bus {
	poolSize := runtime.NumCPU() * 4
	if poolSize < 10 {
		poolSize = 10
	}
	return &Bus{
		handlers:   make(map[reflect.Type][]Handler),
		sem:        make(chan struct{}, poolSize),
		errCounter: errCounter,
		observer:   observer,
		closed:     make(chan struct{}),
	}
}

// On registers handler for every event whose concrete type matches sample's.
// Pass event.Recordable{} to observe the recordable family regardless of
// concrete type.
func (b *Bus) On(sample event.Event, handler Handler) {
	key := event.TypeOf(sample)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[key] = append(b.handlers[key], handler)
}

// Off removes the first handler registered for sample's type that compares
// equal to handler. Handler is a func value; callers that need Off should
// keep the value they passed to On. Off fails when the (type, handler) pair
// is not currently registered.
func (b *Bus) Off(sample event.Event, handler Handler) error {
	key := event.TypeOf(sample)
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := b.handlers[key]
	for i := range hs {
		if reflect.ValueOf(hs[i]).Pointer() == reflect.ValueOf(handler).Pointer() {
			b.handlers[key] = append(hs[:i], hs[i+1:]...)
			return nil
		}
	}
	return errs.Wrap(errs.ErrHandlerNotRegistered, "eventbus: handler not registered for %s", key)
}

// Post dispatches e to every handler registered on its concrete type, plus,
// when e is recordable, every handler registered on event.Recordable{}.
//
// When wait is true, Post blocks until all matching handlers have returned
// and reports the first non-nil handler error (others are discarded: the
// caller asked for a single pass/fail outcome, not a multi-error report).
// When wait is false, handlers run on the bus's bounded worker pool and Post
// returns immediately with a nil error; handler errors are only visible via
// the ErrorCounter.
func (b *Bus) Post(ctx context.Context, e event.Event, wait bool) error {
	handlers := b.handlersFor(e)
	eventType := reflect.TypeOf(e).String()

	if len(handlers) == 0 {
		if b.observer != nil {
			b.observer.ObserveDispatch(eventType, 0, nil)
		}
		return nil
	}

	if wait {
		err := b.dispatchSync(ctx, e, handlers)
		if b.observer != nil {
			b.observer.ObserveDispatch(eventType, len(handlers), err)
		}
		return err
	}

	b.dispatchAsync(ctx, e, eventType, handlers)
	if b.observer != nil {
		b.observer.ObserveDispatch(eventType, len(handlers), nil)
	}
	return nil
}

func (b *Bus) handlersFor(e event.Event) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	direct := b.handlers[event.TypeOf(e)]
	out := make([]Handler, len(direct))
	copy(out, direct)

	if e.Recordable() {
		out = append(out, b.handlers[event.RecordableMarker]...)
	}
	return out
}

func (b *Bus) dispatchSync(ctx context.Context, e event.Event, handlers []Handler) error {
	var wg sync.WaitGroup
	errs := make([]error, len(handlers))
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			errs[i] = safeInvoke(ctx, h, e)
		}(i, h)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) dispatchAsync(ctx context.Context, e event.Event, eventType string, handlers []Handler) {
	for _, h := range handlers {
		h := h
		select {
		case <-b.closed:
			return
		default:
		}

		b.wg.Add(1)
		b.sem <- struct{}{}
		go func() {
			defer b.wg.Done()
			defer func() { <-b.sem }()

			if err := safeInvoke(ctx, h, e); err != nil && b.errCounter != nil {
				b.errCounter.IncHandlerError(eventType)
			}
		}()
	}
}

// safeInvoke recovers a handler panic into an error so one misbehaving
// handler can never take down the bus or its caller.
func safeInvoke(ctx context.Context, h Handler, e event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

// Stop waits for every in-flight asynchronous (wait=false) dispatch to
// finish. After Stop, wait=false Posts no longer start any handler;
// wait=true Posts still run their handlers as before.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.closed) })
	b.wg.Wait()
}
