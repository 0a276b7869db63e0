package scheduler

import (
	"context"
	"log"
	"sync"

	"github.com/hedgehog/pluto/internal/eventbus"
)

// Schedule is a named, ordered list of Instructions run one at a time.
// Schedule is itself an Instruction, so schedules can be nested inside
// Parallel, Repeat* or other schedules.
type Schedule struct {
	description  string
	instructions []Instruction

	mu      sync.Mutex
	index   int
	stopped bool
	running bool
}

// NewSchedule creates a Schedule that will run instructions in order when
// started.
func NewSchedule(description string, instructions []Instruction) *Schedule {
	return &Schedule{description: description, instructions: instructions}
}

func (s *Schedule) Description() string { return s.description }

// Run executes every instruction in order. If Stop is called while an
// instruction is running, that instruction is stopped and the remaining
// instructions are abandoned; Run then returns normally (stopping mid-way
// through a schedule is not itself a failure).
func (s *Schedule) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	log.Printf("scheduler: running schedule %q", s.description)

	s.mu.Lock()
	s.index = 0
	s.stopped = false
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if s.stopped || s.index >= len(s.instructions) {
			s.mu.Unlock()
			break
		}
		instruction := s.instructions[s.index]
		s.mu.Unlock()

		if _, err := instruction.Run(ctx, bus); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.index++
		s.mu.Unlock()
	}

	log.Printf("scheduler: finished schedule %q", s.description)
	return nil, nil
}

// Stop halts the currently running instruction (if any) and marks the
// schedule to abandon the rest of its instructions once that one returns.
func (s *Schedule) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	current := s.instructions[s.index]
	s.mu.Unlock()

	log.Printf("scheduler: stopping schedule %q at step %d", s.description, s.index)
	current.Stop()
}
