package instructions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/eventbus"
	"github.com/hedgehog/pluto/internal/scheduler"
)

// repeatControl is the stop/timer machinery shared by all three Repeat*
// instructions.
type repeatControl struct {
	instruction scheduler.Instruction
	repeatEvery time.Duration

	mu       sync.Mutex
	stop     chan struct{}
	timer    chan struct{}
	external bool
}

// runOnce starts instruction, optionally bounding its runtime to repeatEvery
// (in which case a still-running instruction past that bound is a logic
// fault: the repeat interval was configured shorter than the instruction
// actually takes), and returns the instruction's result. completed is true
// whenever that result was reaped, including after an external stop, and
// false only alongside a non-nil error; callers use stopped() to decide
// whether to exit the loop.
func (rc *repeatControl) runOnce(ctx context.Context, bus *eventbus.Bus) (result any, completed bool, err error) {
	runner := scheduler.NewRunner(bus, rc.instruction)
	if err := runner.Start(ctx); err != nil {
		return nil, false, err
	}

	if rc.repeatEvery > 0 {
		rc.mu.Lock()
		timer := rc.timer
		rc.mu.Unlock()

		select {
		case <-time.After(rc.repeatEvery):
		case <-timer:
		}

		if !runner.Finished() {
			_, _ = runner.Stop()
			rc.mu.Lock()
			stopped := isClosed(rc.stop)
			rc.mu.Unlock()
			if !stopped {
				return nil, false, errs.Wrap(errs.ErrLogic,
					"%s: still running! unable to repeat every %s", rc.instruction.Description(), rc.repeatEvery)
			}
			result, err = runner.Result()
			return result, true, err
		}
	}

	result, err = runner.Result()
	return result, true, err
}

func (rc *repeatControl) arm() {
	rc.mu.Lock()
	rc.stop = make(chan struct{})
	rc.timer = make(chan struct{})
	rc.external = false
	rc.mu.Unlock()
}

func (rc *repeatControl) stopped() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return isClosed(rc.stop)
}

// finishNaturally marks the loop as done because its own termination
// predicate (iteration count, elapsed time) was met, as opposed to an
// external Stop call.
func (rc *repeatControl) finishNaturally() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.stop != nil {
		closeOnce(rc.stop)
	}
}

// completed reports true if the loop exited because its termination
// predicate was met, false if an external Stop cut it short. This is the
// bool returned as the Repeat* instruction's result.
func (rc *repeatControl) completed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return !rc.external
}

func (rc *repeatControl) requestStop() {
	rc.instruction.Stop()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.external = true
	if rc.stop != nil {
		closeOnce(rc.stop)
	}
	if rc.timer != nil {
		closeOnce(rc.timer)
	}
}

func isClosed(ch chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// RepeatForever repeats instruction until stopped; it never completes on
// its own.
type RepeatForever struct {
	repeatControl
}

// NewRepeatForever builds a RepeatForever instruction. repeatEvery of 0
// means run the next iteration immediately after the previous finishes.
func NewRepeatForever(instruction scheduler.Instruction, repeatEvery time.Duration) *RepeatForever {
	return &RepeatForever{repeatControl{instruction: instruction, repeatEvery: repeatEvery}}
}

func (r *RepeatForever) Description() string {
	if r.repeatEvery > 0 {
		return fmt.Sprintf("RepeatForever: repeat(every %s): %s", r.repeatEvery, r.instruction.Description())
	}
	return fmt.Sprintf("RepeatForever: repeat: %s", r.instruction.Description())
}

// Run repeats the wrapped instruction until stopped. Since RepeatForever
// has no natural termination predicate, its result is always false
// (per the Repeat* result convention: true means "loop's own termination
// predicate was met", which never happens here).
func (r *RepeatForever) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	r.arm()
	for !r.stopped() {
		log.Printf("instructions: %s", r.Description())
		if _, _, err := r.runOnce(ctx, bus); err != nil {
			return nil, err
		}
	}
	log.Printf("instructions: RepeatForever finished")
	return false, nil
}

func (r *RepeatForever) Stop() { r.requestStop() }

// RepeatTimes repeats instruction a fixed number of times, or until stopped
// early.
type RepeatTimes struct {
	repeatControl
	iterations int

	mu      sync.Mutex
	counter int
}

// NewRepeatTimes builds a RepeatTimes instruction.
func NewRepeatTimes(instruction scheduler.Instruction, iterations int, repeatEvery time.Duration) *RepeatTimes {
	return &RepeatTimes{
		repeatControl: repeatControl{instruction: instruction, repeatEvery: repeatEvery},
		iterations:    iterations,
		counter:       1,
	}
}

func (r *RepeatTimes) Description() string {
	if r.repeatEvery > 0 {
		return fmt.Sprintf("RepeatTimes: repeat(%d iterations, %s): %s", r.iterations, r.repeatEvery, r.instruction.Description())
	}
	return fmt.Sprintf("RepeatTimes: repeat(%d iterations): %s", r.iterations, r.instruction.Description())
}

// Run repeats the wrapped instruction iterations times. Its result is true
// if every iteration ran (the loop's own termination predicate was met), or
// false if Stop cut it short.
func (r *RepeatTimes) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	r.arm()
	for !r.stopped() {
		r.mu.Lock()
		counter := r.counter
		r.mu.Unlock()
		log.Printf("instructions: RepeatTimes[%d/%d]: %s", counter, r.iterations, r.instruction.Description())

		if _, _, err := r.runOnce(ctx, bus); err != nil {
			return nil, err
		}

		if r.stopped() {
			break
		}
		r.mu.Lock()
		if r.counter < r.iterations {
			r.counter++
			r.mu.Unlock()
		} else {
			r.mu.Unlock()
			r.finishNaturally()
		}
	}
	log.Printf("instructions: RepeatTimes finished")
	return r.completed(), nil
}

func (r *RepeatTimes) Stop() { r.requestStop() }

// RepeatFor repeats instruction until seconds has elapsed, or until stopped
// early.
type RepeatFor struct {
	repeatControl
	seconds time.Duration

	mu    sync.Mutex
	start time.Time
}

// NewRepeatFor builds a RepeatFor instruction.
func NewRepeatFor(instruction scheduler.Instruction, seconds, repeatEvery time.Duration) *RepeatFor {
	return &RepeatFor{
		repeatControl: repeatControl{instruction: instruction, repeatEvery: repeatEvery},
		seconds:       seconds,
	}
}

func (r *RepeatFor) Description() string {
	if r.repeatEvery > 0 {
		return fmt.Sprintf("RepeatFor: repeat every %s for %s: %s", r.repeatEvery, r.seconds, r.instruction.Description())
	}
	return fmt.Sprintf("RepeatFor: repeat for %s: %s", r.seconds, r.instruction.Description())
}

// Run repeats the wrapped instruction until seconds has elapsed. Its result
// is true if the full timespan ran (the loop's own termination predicate
// was met), or false if Stop cut it short.
func (r *RepeatFor) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	r.arm()
	r.mu.Lock()
	r.start = time.Now()
	r.mu.Unlock()

	for !r.stopped() {
		log.Printf("instructions: RepeatFor[%s/%s]: %s", r.elapsed(), r.seconds, r.instruction.Description())

		if _, _, err := r.runOnce(ctx, bus); err != nil {
			return nil, err
		}

		if !r.stopped() && r.elapsed() >= r.seconds {
			r.finishNaturally()
		}
	}
	log.Printf("instructions: RepeatFor finished, ran for %s/%s", r.elapsed(), r.seconds)
	return r.completed(), nil
}

func (r *RepeatFor) elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.start).Round(time.Millisecond * 10)
}

func (r *RepeatFor) Stop() { r.requestStop() }
