package instructions

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/hedgehog/pluto/internal/eventbus"
	"github.com/hedgehog/pluto/internal/scheduler"
)

// Parallel runs a master instruction alongside one or more slave
// instructions. When the master finishes (or errors), every slave still
// running is stopped; Parallel's own result is the master's result. If
// Parallel is stopped externally, both the master and every currently
// running slave are stopped directly (not just the master left to cascade
// a stop to its slaves via completion).
type Parallel struct {
	master scheduler.Instruction
	slaves []scheduler.Instruction

	mu           sync.Mutex
	masterRunner *scheduler.Runner
	slaveRunners []*scheduler.Runner
}

// NewParallel builds a Parallel instruction: master gates the slaves'
// lifetime.
func NewParallel(master scheduler.Instruction, slaves ...scheduler.Instruction) *Parallel {
	return &Parallel{master: master, slaves: slaves}
}

func (p *Parallel) Description() string {
	descs := make([]string, len(p.slaves))
	for i, s := range p.slaves {
		descs[i] = s.Description()
	}
	return fmt.Sprintf("Parallel: master=%s slaves=%v", p.master.Description(), descs)
}

func (p *Parallel) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	log.Printf("instructions: %s", p.Description())

	masterRunner := scheduler.NewRunner(bus, p.master)
	slaveRunners := make([]*scheduler.Runner, len(p.slaves))
	for i, s := range p.slaves {
		slaveRunners[i] = scheduler.NewRunner(bus, s)
	}

	p.mu.Lock()
	p.masterRunner = masterRunner
	p.slaveRunners = slaveRunners
	p.mu.Unlock()

	if err := masterRunner.Start(ctx); err != nil {
		return nil, err
	}
	for _, r := range slaveRunners {
		if err := r.Start(ctx); err != nil {
			return nil, err
		}
	}

	var (
		mu       sync.Mutex
		slaveErr error
		wg       sync.WaitGroup
	)
	for i, r := range slaveRunners {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Result(); err != nil {
				mu.Lock()
				if slaveErr == nil {
					slaveErr = err
				}
				mu.Unlock()
				// A failing slave aborts the whole Parallel, same as the
				// master finishing does.
				masterRunner.Stop()
			}
			log.Printf("instructions: Parallel slave %q finished", p.slaves[i].Description())
		}()
	}

	result, err := masterRunner.Result()
	log.Printf("instructions: Parallel master finished, result=%v err=%v", result, err)

	for _, s := range p.slaves {
		s.Stop()
	}
	wg.Wait()

	if err != nil {
		return nil, err
	}
	if slaveErr != nil {
		return nil, slaveErr
	}
	return result, nil
}

// Stop stops the master AND every currently running slave directly, rather
// than relying on the master's completion to cascade a stop to the slaves.
func (p *Parallel) Stop() {
	p.mu.Lock()
	master, slaves := p.masterRunner, p.slaveRunners
	p.mu.Unlock()

	if master != nil {
		p.master.Stop()
	}
	for i, slave := range p.slaves {
		if i < len(slaves) && slaves[i] != nil {
			slave.Stop()
		}
	}
}
