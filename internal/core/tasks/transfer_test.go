package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devault/backend/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transferDest = "data/proj/EnMicroMsg.db"

func newTransferEnv(t *testing.T, srcSize string) *env {
	t.Helper()
	e := newEnv(t)
	e.onShell(map[string]string{"stat -c%s": srcSize})
	return e
}

func TestNewTransfer_InitErrors(t *testing.T) {
	t.Run("missing user", func(t *testing.T) {
		e := newTransferEnv(t, "10")
		_, err := NewTransfer(context.Background(), e.deps, "proj", nil, Params{})
		assert.ErrorIs(t, err, ErrTransferInit)
		assert.ErrorIs(t, err, ErrMissingParam)
	})

	t.Run("no device", func(t *testing.T) {
		e := newTransferEnv(t, "10")
		e.transport.device = nil
		_, err := NewTransfer(context.Background(), e.deps, "proj", nil, Params{"user": "u1"})
		assert.ErrorIs(t, err, ErrTransferInit)
		assert.ErrorIs(t, err, ports.ErrNoDevice)
	})

	t.Run("unreadable remote size", func(t *testing.T) {
		e := newTransferEnv(t, "stat: cannot stat: No such file or directory")
		_, err := NewTransfer(context.Background(), e.deps, "proj", nil, Params{"user": "u1"})
		assert.ErrorIs(t, err, ErrTransferInit)
		assert.Equal(t, int32(1), e.device.closed.Load())
	})

	t.Run("not enough space", func(t *testing.T) {
		e := newTransferEnv(t, "1000000")
		e.files.free = 999_999
		_, err := NewTransfer(context.Background(), e.deps, "proj", nil, Params{"user": "u1"})
		assert.ErrorIs(t, err, ErrTransferInit)
		assert.ErrorIs(t, err, ErrInsufficientSpace)
		assert.Equal(t, int32(1), e.device.closed.Load())
	})

	t.Run("path escaping name", func(t *testing.T) {
		e := newTransferEnv(t, "10")
		_, err := NewTransfer(context.Background(), e.deps, "../etc", nil, Params{"user": "u1"})
		assert.ErrorIs(t, err, ErrTransferInit)
		assert.ErrorIs(t, err, ErrInvalidProjectName)
	})
}

func TestTransfer_ProgressFollowsDestinationGrowth(t *testing.T) {
	e := newTransferEnv(t, "1000000\r\n")
	r, err := NewTransfer(context.Background(), e.deps, "proj", e.results.callback, Params{"user": "u1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"stat -c%s '/data/data/com.tencent.mm/MicroMsg/u1/EnMicroMsg.db'"}, e.device.commands())

	var seen []float64
	for _, size := range []int64{0, 250_000, 500_000, 750_000, 1_000_000} {
		e.files.Set(transferDest, size)
		p, err := r.Progress()
		require.NoError(t, err)
		seen = append(seen, p.Fraction())

		tp := p.(TransferProgress)
		assert.Equal(t, int64(1_000_000), tp.SrcByte)
		assert.Equal(t, size, tp.DestByte)
		assert.Equal(t, "EnMicroMsg.db", tp.Filename)
		assert.Equal(t, transferDest, tp.Path)
	}
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, seen)
}

func TestTransfer_LivenessTimesOutWithoutGrowth(t *testing.T) {
	e := newTransferEnv(t, "1000000")
	r, err := NewTransfer(context.Background(), e.deps, "proj", e.results.callback, Params{"user": "u1", "timeout": "10s"})
	require.NoError(t, err)

	e.files.Set(transferDest, 250_000)
	assert.True(t, r.IsAlive())
	e.clock.Advance(9 * time.Second)
	assert.True(t, r.IsAlive())

	e.files.Set(transferDest, 500_000)
	e.clock.Advance(9 * time.Second)
	assert.True(t, r.IsAlive())

	e.clock.Advance(10 * time.Second)
	assert.True(t, r.IsAlive())
	e.clock.Advance(time.Second)
	assert.False(t, r.IsAlive())
}

func TestTransfer_PullCompletes(t *testing.T) {
	e := newTransferEnv(t, "4096")
	e.device.pull = func(_, local string) error {
		e.files.Set(local, 4096)
		return nil
	}
	r, err := NewTransfer(context.Background(), e.deps, "proj", e.results.callback, Params{"user": "u1"})
	require.NoError(t, err)

	r.Start()
	waitDone(t, r)

	assert.Equal(t, StopBySelf, r.StopReason())
	assert.Equal(t, [][2]string{{"/data/data/com.tencent.mm/MicroMsg/u1/EnMicroMsg.db", transferDest}}, e.device.pulled)
	assert.Contains(t, e.files.madeDirs(), "data/proj")

	p, err := r.Progress()
	require.NoError(t, err)
	assert.Equal(t, ProgressDone, p.Fraction())
	assert.True(t, p.Terminal())

	checkers := e.adder.added()
	require.Len(t, checkers, 1)
	assert.Equal(t, "Db size checker - proj", checkers[0].Name)
	assert.Equal(t, CategoryHeartbeat, checkers[0].Category)
	assert.Equal(t, "check_db_size", checkers[0].Params["command"])
	assert.Equal(t, 10*time.Millisecond, checkers[0].Params["interval"])

	require.NoError(t, r.Kill())
	assert.Equal(t, int32(1), e.device.closed.Load())
}

func TestTransfer_PullErrorReportsSentinel(t *testing.T) {
	e := newTransferEnv(t, "4096")
	e.device.pull = func(string, string) error { return errors.New("connection reset") }
	r, err := NewTransfer(context.Background(), e.deps, "proj", e.results.callback, Params{"user": "u1"})
	require.NoError(t, err)

	r.Start()
	waitDone(t, r)

	p, err := r.Progress()
	require.NoError(t, err)
	tp := p.(TransferProgress)
	assert.Equal(t, ProgressError, tp.Progress)
	assert.Equal(t, int64(-1), tp.SrcByte)
	assert.Equal(t, int64(-1), tp.DestByte)
}

func TestTransfer_UserStopIsNotAnError(t *testing.T) {
	e := newTransferEnv(t, "4096")
	entered := make(chan struct{})
	release := make(chan struct{})
	e.device.pull = func(string, string) error {
		close(entered)
		<-release
		return errors.New("use of closed connection")
	}
	r, err := NewTransfer(context.Background(), e.deps, "proj", e.results.callback, Params{"user": "u1"})
	require.NoError(t, err)

	r.Start()
	<-entered
	e.files.Set(transferDest, 1024)
	res := r.Stop(StopByUser)
	assert.Equal(t, "Pull has been stopped", res.Message)
	close(release)
	waitDone(t, r)

	p, err := r.Progress()
	require.NoError(t, err)
	assert.Equal(t, 0.25, p.Fraction())
	assert.True(t, p.Terminal())
}
