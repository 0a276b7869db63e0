// Package scheduler implements the instruction execution core: the
// Instruction contract, the Runner that executes one instruction in its own
// goroutine, the Schedule composite that runs a sequence of instructions,
// and the Scheduler component that owns a set of named schedules.
package scheduler

import (
	"context"
	"sync"

	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/eventbus"
)

// Instruction is the unit of work a Runner executes. Implementations live in
// the instructions subpackage (Call, Set, WaitSeconds, Parallel, Repeat*,
// ...) plus Schedule itself, which is also an Instruction so schedules can
// nest.
type Instruction interface {
	// Description is a human readable summary, used in logs and the access
	// surface; it carries no behavior.
	Description() string

	// Run executes the instruction to completion or until Stop is called
	// from another goroutine. The returned error is nil on success or on a
	// clean external stop; a non-nil error means the instruction itself
	// failed (bad parameters, attribute error, ...).
	Run(ctx context.Context, bus *eventbus.Bus) (any, error)

	// Stop asks a running instruction to terminate early. It must be safe
	// to call from a different goroutine than the one running Run, and
	// must be safe to call even if Run has already returned.
	Stop()
}

// Runner executes a single Instruction in its own goroutine and gives
// callers a small non-blocking lifecycle API around it: Start, Stop, Wait,
// Result and Reset.
type Runner struct {
	bus         *eventbus.Bus
	instruction Instruction

	mu       sync.Mutex
	started  bool
	finished bool
	done     chan struct{}

	result any
	err    error
}

// NewRunner creates a Runner for instruction, bound to bus.
func NewRunner(bus *eventbus.Bus, instruction Instruction) *Runner {
	return &Runner{
		bus:         bus,
		instruction: instruction,
		done:        make(chan struct{}),
	}
}

// Finished reports whether the instruction has completed running. False
// both before Start and while still running.
func (r *Runner) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Start runs the instruction in a new goroutine and returns immediately.
// Returns ErrLogic if the runner was already started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errs.Wrap(errs.ErrLogic, "already started: %s", r.instruction.Description())
	}
	r.started = true
	r.mu.Unlock()

	go func() {
		result, err := runSafely(ctx, r.bus, r.instruction)
		r.mu.Lock()
		r.result = result
		r.err = err
		r.finished = true
		r.mu.Unlock()
		close(r.done)
	}()
	return nil
}

// runSafely recovers a panicking instruction into an error, matching the
// runner's job of reaping either a result or an exception, never letting
// either escape the goroutine.
func runSafely(ctx context.Context, bus *eventbus.Bus, instruction Instruction) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.Wrap(errs.ErrLogic, "instruction panic: %v", p)
		}
	}()
	return instruction.Run(ctx, bus)
}

// Stop asks the instruction to stop, then blocks until it has, returning its
// result exactly as Result would (the instruction's own Run decides what to
// return when stopped early).
func (r *Runner) Stop() (any, error) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return nil, errs.Wrap(errs.ErrLogic, "instruction was not started")
	}
	r.instruction.Stop()
	return r.Result()
}

// Wait blocks until the instruction finishes. Returns ErrLogic if the
// runner was never started.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return errs.Wrap(errs.ErrLogic, "instruction was not started")
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result blocks until the instruction has finished (see Wait) and returns
// whatever it returned, or the error it failed with.
func (r *Runner) Result() (any, error) {
	if err := r.Wait(context.Background()); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Reset clears the runner so the same Instruction can be run again. Returns
// ErrLogic if the instruction is currently running.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started && !r.finished {
		return errs.Wrap(errs.ErrLogic, "cannot reset whilst running")
	}
	r.started = false
	r.finished = false
	r.done = make(chan struct{})
	r.result = nil
	r.err = nil
	return nil
}
