package instructions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/eventbus"
	"github.com/hedgehog/pluto/internal/scheduler/waitrunner"
)

// WaitSeconds blocks for a fixed duration, or until stopped early. Either
// way it reports true: being stopped mid-wait is not a failure.
type WaitSeconds struct {
	seconds time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

// NewWaitSeconds builds a WaitSeconds instruction that blocks for d.
func NewWaitSeconds(d time.Duration) *WaitSeconds {
	return &WaitSeconds{seconds: d}
}

func (w *WaitSeconds) Description() string {
	return fmt.Sprintf("WaitSeconds: waiting %s", w.seconds)
}

func (w *WaitSeconds) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	stop := make(chan struct{})
	w.mu.Lock()
	w.stop = stop
	w.mu.Unlock()

	log.Printf("instructions: %s", w.Description())
	result := waitrunner.ExecuteWait([]waitrunner.WaitRunner{
		waitrunner.BlockingWait{For: w.seconds},
		waitrunner.StopEventWatcher{Stop: stop},
	})
	log.Printf("instructions: WaitSeconds finished, result=%v", result)
	return result, nil
}

func (w *WaitSeconds) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		closeOnce(w.stop)
	}
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// waitAttributes holds what both WaitAttributesWithinRange and
// WaitAttributesGreaterThan need: a component, the attribute names to
// monitor, how long they must stay in range, and an overall timeout.
type waitAttributes struct {
	component  string
	attributes []string
	stableFor  time.Duration
	timeout    time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

func (w *waitAttributes) run(ctx context.Context, bus *eventbus.Bus, inRange func(value any) bool) (any, error) {
	stop := make(chan struct{})
	w.mu.Lock()
	w.stopCh = stop
	w.mu.Unlock()

	// Resolve every attribute once up front so a typo'd name or an erroring
	// getter fails immediately instead of quietly waiting out the timeout.
	attrs := make([]waitrunner.Attribute, 0, len(w.attributes))
	for _, name := range w.attributes {
		name := name
		if _, err := component.GetVariableViaBus(ctx, bus, w.component, name); err != nil {
			return nil, errs.Wrap(errs.ErrAttribute, "wait: %s.%s: %v", w.component, name, err)
		}
		attrs = append(attrs, waitrunner.NewAttribute(
			func() any {
				v, err := component.GetVariableViaBus(ctx, bus, w.component, name)
				if err != nil {
					return nil
				}
				return v
			},
			inRange,
		))
	}

	result := waitrunner.ExecuteWait([]waitrunner.WaitRunner{
		waitrunner.TimeoutWait{Timeout: w.timeout},
		waitrunner.StopEventWatcher{Stop: stop},
		waitrunner.AttributesWatcher{Attributes: attrs, StableFor: w.stableFor},
	})
	return result, nil
}

func (w *waitAttributes) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		closeOnce(w.stopCh)
	}
}

// WaitAttributesWithinRange waits for a set of a component's attributes to
// enter [minimum, maximum] and remain there for stableFor, or for timeout /
// an external stop to win the race first.
type WaitAttributesWithinRange struct {
	waitAttributes
	minimum, maximum float64
}

// NewWaitAttributesWithinRange builds the instruction described above.
func NewWaitAttributesWithinRange(comp string, attributes []string, stableFor, timeout time.Duration, minimum, maximum float64) *WaitAttributesWithinRange {
	return &WaitAttributesWithinRange{
		waitAttributes: waitAttributes{component: comp, attributes: attributes, stableFor: stableFor, timeout: timeout},
		minimum:        minimum,
		maximum:        maximum,
	}
}

func (w *WaitAttributesWithinRange) Description() string {
	return fmt.Sprintf("WaitAttributesWithinRange: waiting for %.2f <= %s.%v <= %.2f", w.minimum, w.component, w.attributes, w.maximum)
}

func (w *WaitAttributesWithinRange) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	log.Printf("instructions: %s", w.Description())
	result, err := w.waitAttributes.run(ctx, bus, func(value any) bool {
		f, ok := toFloat(value)
		return ok && f >= w.minimum && f <= w.maximum
	})
	log.Printf("instructions: WaitAttributesWithinRange finished, result=%v", result)
	return result, err
}

func (w *WaitAttributesWithinRange) Stop() { w.waitAttributes.stop() }

// WaitAttributesGreaterThan waits for a set of a component's attributes to
// rise to or above threshold and remain there for stableFor.
type WaitAttributesGreaterThan struct {
	waitAttributes
	threshold float64
}

// NewWaitAttributesGreaterThan builds the instruction described above.
func NewWaitAttributesGreaterThan(comp string, attributes []string, stableFor, timeout time.Duration, threshold float64) *WaitAttributesGreaterThan {
	return &WaitAttributesGreaterThan{
		waitAttributes: waitAttributes{component: comp, attributes: attributes, stableFor: stableFor, timeout: timeout},
		threshold:      threshold,
	}
}

func (w *WaitAttributesGreaterThan) Description() string {
	return fmt.Sprintf("WaitAttributesGreaterThan: waiting for %s.%v >= %.2f", w.component, w.attributes, w.threshold)
}

func (w *WaitAttributesGreaterThan) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	log.Printf("instructions: %s", w.Description())
	result, err := w.waitAttributes.run(ctx, bus, func(value any) bool {
		f, ok := toFloat(value)
		return ok && f >= w.threshold
	})
	log.Printf("instructions: WaitAttributesGreaterThan finished, result=%v", result)
	return result, err
}

func (w *WaitAttributesGreaterThan) Stop() { w.waitAttributes.stop() }

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
