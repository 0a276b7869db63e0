package scheduler

import (
	"context"
	"log"
	"sync"

	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/eventbus"
)

// Scheduler is the component that owns a set of loaded Schedules and runs
// them in the order they were loaded, one at a time, starting over from the
// first whenever Run is invoked.
type Scheduler struct {
	component.Base

	bus *eventbus.Bus

	mu        sync.Mutex
	schedules []*Schedule
	index     int
	started   bool
	stopped   bool
	finished  chan struct{}
}

// NewScheduler creates an unstarted Scheduler component. Callers must still
// call Registry.Register to make it addressable by name.
func NewScheduler(name string, bus *eventbus.Bus) *Scheduler {
	log.Printf("scheduler: starting %q", name)
	return &Scheduler{
		Base:     component.NewBase(name, bus),
		bus:      bus,
		finished: closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Describe implements component.Component.
func (s *Scheduler) Describe() (methods []string, variables []string) {
	return []string{"Load", "Run", "Reset"}, nil
}

// Load appends schedule to the ordered set of schedules this Scheduler will
// run. Order matters: schedules run in the order they were loaded.
func (s *Scheduler) Load(schedule *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append(s.schedules, schedule)
	return nil
}

// Run starts executing every loaded schedule in order, from the first,
// returning immediately; the run happens on a background goroutine. Returns
// ErrLogic if the Scheduler is already running.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errs.Wrap(errs.ErrLogic, "cannot run the scheduler whilst already running")
	}
	s.started = true
	s.stopped = false
	s.index = 0
	s.finished = make(chan struct{})
	finished := s.finished
	s.mu.Unlock()

	go func() {
		log.Printf("scheduler: running all loaded schedules on %q", s.Name())
		for {
			s.mu.Lock()
			if s.stopped || s.index >= len(s.schedules) {
				s.mu.Unlock()
				break
			}
			sched := s.schedules[s.index]
			s.mu.Unlock()

			_, _ = sched.Run(ctx, s.bus)

			s.mu.Lock()
			s.index++
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.started = false
		s.stopped = false
		s.mu.Unlock()
		log.Printf("scheduler: finished running loaded schedules on %q", s.Name())
		close(finished)
	}()
	return nil
}

// Stop halts the currently running schedule, if any, and abandons the rest.
// This is also the component.Component Stop hook invoked during application
// shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || len(s.schedules) == 0 {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	current := s.schedules[s.index]
	s.mu.Unlock()

	current.Stop()
}

// Wait blocks until the Scheduler finishes running every loaded schedule, or
// ctx is cancelled.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears every loaded schedule. Only permitted while the Scheduler is
// not running.
func (s *Scheduler) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errs.Wrap(errs.ErrLogic, "cannot reset scheduler whilst running")
	}
	log.Printf("scheduler: reset %q", s.Name())
	s.schedules = nil
	s.index = 0
	return nil
}
