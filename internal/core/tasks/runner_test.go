package tasks

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, hooks Hooks) *Runner {
	t.Helper()
	r, err := NewRunner("job", "test", hooks, nil)
	require.NoError(t, err)
	return r
}

func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(waitFor):
		t.Fatalf("runner %s did not finish", r.Name())
	}
}

func TestNewRunner_RequiresName(t *testing.T) {
	_, err := NewRunner("", "test", Hooks{}, nil)
	require.Error(t, err)
	assert.True(t, IsInitError(err))
}

func TestRunner_LoopsUntilStopped(t *testing.T) {
	var loops, after atomic.Int32
	r := newTestRunner(t, Hooks{
		BeforeLoop: func() time.Duration { return time.Millisecond },
		OnLoop:     func() { loops.Add(1) },
		AfterLoop:  func() { after.Add(1) },
	})

	assert.False(t, r.Started())
	r.Start()
	r.Start()
	assert.True(t, r.Started())

	require.Eventually(t, func() bool { return loops.Load() >= 3 }, waitFor, poll)

	res := r.Stop(StopByUser)
	assert.Equal(t, StopResult{OK: true, Stopped: true, Message: "Task has stopped"}, res)
	waitDone(t, r)

	assert.True(t, r.Stopped())
	assert.True(t, r.StoppedByUser())
	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, int64(loops.Load()), r.RunCount())
}

func TestRunner_StopWakesLongSleep(t *testing.T) {
	r := newTestRunner(t, Hooks{
		BeforeLoop: func() time.Duration { return time.Hour },
	})
	r.Start()
	require.Eventually(t, func() bool { return r.RunCount() == 1 }, waitFor, poll)

	r.Stop(StopByDaemon)
	waitDone(t, r)
	assert.Equal(t, StopByDaemon, r.StopReason())
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	var before, afterStop atomic.Int32
	r := newTestRunner(t, Hooks{
		BeforeStop:  func() error { before.Add(1); return nil },
		AfterStop:   func() error { afterStop.Add(1); return nil },
		StopMessage: "Pull has been stopped",
	})

	first := r.Stop(StopByUser)
	second := r.Stop(StopByDaemon)

	assert.Equal(t, first, second)
	assert.True(t, second.OK)
	assert.Equal(t, "Pull has been stopped", second.Message)
	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), afterStop.Load())
	assert.Equal(t, StopByUser, r.StopReason())
}

func TestRunner_StopFailureUsesFailureMessage(t *testing.T) {
	r := newTestRunner(t, Hooks{
		BeforeStop: func() error { return errors.New("connection busy") },
	})

	res := r.Stop(StopByUser)
	assert.False(t, res.OK)
	assert.False(t, res.Stopped)
	assert.Equal(t, "Task stop failed", res.Message)
	assert.False(t, r.Stopped())
}

func TestRunner_StopRecoversHookPanic(t *testing.T) {
	r := newTestRunner(t, Hooks{
		AfterStop:       func() error { panic("boom") },
		StopFailMessage: "Stop pull failed",
	})

	res := r.Stop(StopByUser)
	assert.False(t, res.OK)
	assert.True(t, res.Stopped)
	assert.Equal(t, "Stop pull failed", res.Message)
}

func TestRunner_LoopPanicStopsRunner(t *testing.T) {
	r := newTestRunner(t, Hooks{
		OnLoop: func() { panic("step exploded") },
	})
	r.Start()
	waitDone(t, r)

	assert.True(t, r.Stopped())
	assert.Equal(t, StopBySelf, r.StopReason())
	assert.Equal(t, int64(1), r.RunCount())
}

func TestRunner_HookDefaults(t *testing.T) {
	r := newTestRunner(t, Hooks{})

	assert.True(t, r.IsAlive())
	assert.False(t, r.KillOnStop())
	assert.NoError(t, r.Kill())
	_, err := r.Progress()
	assert.Error(t, err)
}

func TestRunner_PanickingHooksAreContained(t *testing.T) {
	r := newTestRunner(t, Hooks{
		IsAlive: func() bool { panic("stat failed") },
		OnKill:  func() error { panic("close failed") },
	})

	assert.False(t, r.IsAlive())
	assert.Error(t, r.Kill())
}
