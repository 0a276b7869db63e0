package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehog/pluto/internal/errs"
	"github.com/hedgehog/pluto/internal/eventbus"
)

type fakeInstruction struct {
	run  func(ctx context.Context, bus *eventbus.Bus) (any, error)
	stop func()
}

func (f *fakeInstruction) Description() string { return "fake" }
func (f *fakeInstruction) Run(ctx context.Context, bus *eventbus.Bus) (any, error) {
	return f.run(ctx, bus)
}
func (f *fakeInstruction) Stop() {
	if f.stop != nil {
		f.stop()
	}
}

func TestRunnerStopBeforeStarted(t *testing.T) {
	r := NewRunner(eventbus.New(nil, nil), &fakeInstruction{})
	_, err := r.Stop()
	assert.ErrorIs(t, err, errs.ErrLogic)
}

func TestRunnerWaitBeforeStarted(t *testing.T) {
	r := NewRunner(eventbus.New(nil, nil), &fakeInstruction{})
	err := r.Wait(context.Background())
	assert.ErrorIs(t, err, errs.ErrLogic)
}

func TestRunnerResultBeforeStarted(t *testing.T) {
	r := NewRunner(eventbus.New(nil, nil), &fakeInstruction{})
	_, err := r.Result()
	assert.ErrorIs(t, err, errs.ErrLogic)
}

func TestRunnerFinishedBeforeStarted(t *testing.T) {
	r := NewRunner(eventbus.New(nil, nil), &fakeInstruction{})
	assert.False(t, r.Finished())
}

func TestRunnerStartRunsToCompletion(t *testing.T) {
	instr := &fakeInstruction{run: func(context.Context, *eventbus.Bus) (any, error) { return nil, nil }}
	r := NewRunner(eventbus.New(nil, nil), instr)
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Wait(context.Background()))
	assert.True(t, r.Finished())
}

func TestRunnerStopUnblocksRunningInstruction(t *testing.T) {
	unblock := make(chan struct{})
	var stopOnce sync.Once
	instr := &fakeInstruction{
		run: func(context.Context, *eventbus.Bus) (any, error) {
			<-unblock
			return "a fake result", nil
		},
		stop: func() { stopOnce.Do(func() { close(unblock) }) },
	}
	r := NewRunner(eventbus.New(nil, nil), instr)
	require.NoError(t, r.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, r.Finished())

	result, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, "a fake result", result)
	assert.True(t, r.Finished())
}

func TestRunnerReapsInstructionError(t *testing.T) {
	boom := errors.New("boom")
	instr := &fakeInstruction{run: func(context.Context, *eventbus.Bus) (any, error) { return nil, boom }}
	r := NewRunner(eventbus.New(nil, nil), instr)
	require.NoError(t, r.Start(context.Background()))

	_, err := r.Result()
	assert.ErrorIs(t, err, boom)
}

func TestRunnerReapsInstructionPanic(t *testing.T) {
	instr := &fakeInstruction{run: func(context.Context, *eventbus.Bus) (any, error) { panic("kaboom") }}
	r := NewRunner(eventbus.New(nil, nil), instr)
	require.NoError(t, r.Start(context.Background()))

	_, err := r.Result()
	assert.ErrorIs(t, err, errs.ErrLogic)
}

func TestRunnerWaitBlocksUntilFinished(t *testing.T) {
	const runTime = 100 * time.Millisecond
	instr := &fakeInstruction{run: func(context.Context, *eventbus.Bus) (any, error) {
		time.Sleep(runTime)
		return "a fake result", nil
	}}
	r := NewRunner(eventbus.New(nil, nil), instr)

	start := time.Now()
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, r.Finished())

	require.NoError(t, r.Wait(context.Background()))
	assert.True(t, time.Since(start) >= runTime)

	result, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, "a fake result", result)
}

func TestRunnerStartTwiceIsLogicError(t *testing.T) {
	instr := &fakeInstruction{run: func(context.Context, *eventbus.Bus) (any, error) { return nil, nil }}
	r := NewRunner(eventbus.New(nil, nil), instr)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Wait(context.Background()))

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, errs.ErrLogic)
}

func TestRunnerResetWhileRunningIsLogicError(t *testing.T) {
	unblock := make(chan struct{})
	instr := &fakeInstruction{run: func(context.Context, *eventbus.Bus) (any, error) {
		<-unblock
		return nil, nil
	}}
	r := NewRunner(eventbus.New(nil, nil), instr)
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)

	err := r.Reset()
	assert.ErrorIs(t, err, errs.ErrLogic)
	close(unblock)
}

func TestRunnerResetAllowsRerun(t *testing.T) {
	var n int
	instr := &fakeInstruction{run: func(context.Context, *eventbus.Bus) (any, error) {
		n++
		return n, nil
	}}
	r := NewRunner(eventbus.New(nil, nil), instr)

	require.NoError(t, r.Start(context.Background()))
	result, err := r.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, result)

	require.NoError(t, r.Reset())
	assert.False(t, r.Finished())

	require.NoError(t, r.Start(context.Background()))
	result, err = r.Result()
	require.NoError(t, err)
	assert.Equal(t, 2, result)
}
