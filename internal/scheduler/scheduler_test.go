package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/eventbus"
)

func instantInstruction(description string, calls *[]string) *fakeInstruction {
	return &fakeInstruction{
		run: func(context.Context, *eventbus.Bus) (any, error) {
			*calls = append(*calls, description)
			return nil, nil
		},
	}
}

func TestScheduleRunsInstructionsInOrder(t *testing.T) {
	var calls []string
	sched := NewSchedule("demo", []Instruction{
		instantInstruction("one", &calls),
		instantInstruction("two", &calls),
		instantInstruction("three", &calls),
	})

	_, err := sched.Run(context.Background(), eventbus.New(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, calls)
}

func TestScheduleStopAbandonsRemainingInstructions(t *testing.T) {
	var calls []string
	unblock := make(chan struct{})

	blocking := &fakeInstruction{
		run: func(context.Context, *eventbus.Bus) (any, error) {
			calls = append(calls, "blocking")
			<-unblock
			return nil, nil
		},
		stop: func() { close(unblock) },
	}
	sched := NewSchedule("demo", []Instruction{
		blocking,
		instantInstruction("never", &calls),
	})

	done := make(chan struct{})
	go func() {
		_, _ = sched.Run(context.Background(), eventbus.New(nil, nil))
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	sched.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("schedule did not stop")
	}
	assert.Equal(t, []string{"blocking"}, calls)
}

func TestSchedulerRunRejectsConcurrentRun(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)

	s := NewScheduler("sched", eventbus.New(nil, nil))
	sched := NewSchedule("demo", []Instruction{
		&fakeInstruction{run: func(context.Context, *eventbus.Bus) (any, error) {
			<-unblock
			return nil, nil
		}},
	})
	require.NoError(t, s.Load(sched))
	require.NoError(t, s.Run(context.Background()))
	time.Sleep(20 * time.Millisecond)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, errs.ErrLogic)
}

func TestSchedulerResetRejectedWhileRunning(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)

	s := NewScheduler("sched", eventbus.New(nil, nil))
	sched := NewSchedule("demo", []Instruction{
		&fakeInstruction{run: func(context.Context, *eventbus.Bus) (any, error) {
			<-unblock
			return nil, nil
		}},
	})
	require.NoError(t, s.Load(sched))
	require.NoError(t, s.Run(context.Background()))
	time.Sleep(20 * time.Millisecond)

	err := s.Reset()
	assert.ErrorIs(t, err, errs.ErrLogic)
}

func TestSchedulerResetClearsSchedulesWhileIdle(t *testing.T) {
	s := NewScheduler("sched", eventbus.New(nil, nil))
	var calls []string
	require.NoError(t, s.Load(NewSchedule("demo", []Instruction{instantInstruction("one", &calls)})))

	require.NoError(t, s.Reset())
	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Wait(context.Background()))

	assert.Empty(t, calls)
}

func TestSchedulerRunsLoadedSchedulesInOrderThenFinishes(t *testing.T) {
	s := NewScheduler("sched", eventbus.New(nil, nil))
	var calls []string
	require.NoError(t, s.Load(NewSchedule("first", []Instruction{instantInstruction("a", &calls)})))
	require.NoError(t, s.Load(NewSchedule("second", []Instruction{instantInstruction("b", &calls)})))

	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Wait(context.Background()))

	assert.Equal(t, []string{"a", "b"}, calls)
}
