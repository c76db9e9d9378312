package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pingTable(seen *atomic.Value, alive *atomic.Bool) CommandTable {
	return CommandTable{
		"ping": {
			Work: func(_ context.Context, name string, params Params) Outcome {
				seen.Store(params)
				return Outcome{Success: true, Data: name, Message: "pong"}
			},
			Alive: func(context.Context, string, Params) bool { return alive.Load() },
		},
		"echo": {
			Work: func(context.Context, string, Params) Outcome { return Outcome{Success: true} },
		},
	}
}

func TestNewHeartbeat_InitErrors(t *testing.T) {
	e := newEnv(t)
	var seen atomic.Value
	var alive atomic.Bool
	e.deps.Commands = pingTable(&seen, &alive)

	tests := []struct {
		name   string
		cb     Callback
		params Params
	}{
		{"no callback", nil, Params{"command": "ping", "interval": 1}},
		{"no command", e.results.callback, Params{"interval": 1}},
		{"no interval", e.results.callback, Params{"command": "ping"}},
		{"zero interval", e.results.callback, Params{"command": "ping", "interval": 0}},
		{"unknown command", e.results.callback, Params{"command": "reboot", "interval": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHeartbeat(context.Background(), e.deps, "hb", tt.cb, tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrHeartbeatInit)
			assert.True(t, IsInitError(err))
		})
	}
}

func TestHeartbeat_ForwardsResults(t *testing.T) {
	e := newEnv(t)
	var seen atomic.Value
	var alive atomic.Bool
	alive.Store(true)
	e.deps.Commands = pingTable(&seen, &alive)

	r, err := NewHeartbeat(context.Background(), e.deps, "hb", e.results.callback, Params{
		"command":  "ping",
		"interval": 5 * time.Millisecond,
		"device":   "pixel",
	})
	require.NoError(t, err)
	assert.True(t, r.KillOnStop())

	r.Start()
	require.Eventually(t, func() bool { return e.results.len() >= 2 }, waitFor, poll)
	r.Stop(StopByDaemon)
	waitDone(t, r)

	got := e.results.all()[0]
	assert.Equal(t, Result{Command: "ping", Name: "hb", Success: true, Data: "hb", Message: "pong"}, got)
	assert.Equal(t, DefaultChannel, e.results.chs[0])

	params := seen.Load().(Params)
	assert.NotContains(t, params, "command")
	assert.Equal(t, "pixel", params["device"])

	assert.True(t, r.IsAlive())
	alive.Store(false)
	assert.False(t, r.IsAlive())
}

func TestHeartbeat_WithoutAliveIsAlwaysAlive(t *testing.T) {
	e := newEnv(t)
	var seen atomic.Value
	var alive atomic.Bool
	e.deps.Commands = pingTable(&seen, &alive)

	r, err := NewHeartbeat(context.Background(), e.deps, "hb", e.results.callback, Params{"command": "echo", "interval": "1s"})
	require.NoError(t, err)
	assert.True(t, r.IsAlive())
}

func TestNewOnce_InitErrors(t *testing.T) {
	e := newEnv(t)

	_, err := NewOnce(context.Background(), e.deps, "once", nil, Params{"command": "check_db_size"})
	assert.ErrorIs(t, err, ErrOnceInit)

	_, err = NewOnce(context.Background(), e.deps, "once", e.results.callback, Params{})
	assert.ErrorIs(t, err, ErrOnceInit)

	_, err = NewOnce(context.Background(), e.deps, "once", e.results.callback, Params{"command": "reboot"})
	assert.ErrorIs(t, err, ErrOnceInit)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestOnce_RunsExactlyOnce(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int32
	e.deps.Commands = CommandTable{
		"count": {Work: func(context.Context, string, Params) Outcome {
			calls.Add(1)
			return Outcome{Success: true}
		}},
	}

	r, err := NewOnce(context.Background(), e.deps, "once", e.results.callback, Params{"command": "count"})
	require.NoError(t, err)
	assert.True(t, r.IsAlive())
	assert.True(t, r.KillOnStop())

	r.Start()
	require.Eventually(t, func() bool { return !r.IsAlive() }, waitFor, poll)
	require.Eventually(t, func() bool { return r.RunCount() >= 3 }, waitFor, poll)
	r.Stop(StopByDaemon)
	waitDone(t, r)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, e.results.len())
}

func TestOnce_HungWorkExpiresAfterTimeout(t *testing.T) {
	e := newEnv(t)
	started := make(chan struct{})
	release := make(chan struct{})
	e.deps.Commands = CommandTable{
		"hang": {Work: func(context.Context, string, Params) Outcome {
			close(started)
			<-release
			return Outcome{Success: true}
		}},
	}

	r, err := NewOnce(context.Background(), e.deps, "once", e.results.callback, Params{"command": "hang", "timeout": 5})
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	assert.True(t, r.IsAlive())

	r.Start()
	<-started
	e.clock.Advance(5 * time.Second)
	assert.True(t, r.IsAlive())
	e.clock.Advance(time.Second)
	assert.False(t, r.IsAlive())

	close(release)
	r.Stop(StopByDaemon)
	waitDone(t, r)
	assert.Equal(t, 1, e.results.len())
}

func TestProgressCheck(t *testing.T) {
	var current atomic.Value
	current.Store(TransferProgress{ProjectName: "p", Progress: 0.4})
	var sampled atomic.Int32
	cmd := ProgressCheck(func(context.Context, Progress) { sampled.Add(1) })
	params := Params{
		"interval": time.Millisecond,
		"progress": ProgressFunc(func() Progress { return current.Load().(Progress) }),
	}
	ctx := context.Background()

	out := cmd.Work(ctx, "checker", params)
	assert.True(t, out.Success)
	assert.Equal(t, 0.4, out.Data.(Progress).Fraction())
	assert.Equal(t, int32(1), sampled.Load())
	assert.True(t, cmd.Alive(ctx, "checker", params))

	current.Store(TransferProgress{ProjectName: "p", Progress: ProgressDone})
	assert.False(t, cmd.Alive(ctx, "checker", params))

	out = cmd.Work(ctx, "checker", Params{})
	assert.False(t, out.Success)
	assert.False(t, cmd.Alive(ctx, "checker", Params{}))
}

func TestCommandTable_Resolve(t *testing.T) {
	table := ProgressCommands()

	_, err := table.Resolve(CmdCheckDBSize)
	assert.NoError(t, err)
	_, err = table.Resolve(CmdGetIMEI)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	merged := table.Merge(CommandTable{CmdGetIMEI: {Work: func(context.Context, string, Params) Outcome { return Outcome{} }}})
	_, err = merged.Resolve(CmdGetIMEI)
	assert.NoError(t, err)
	assert.Len(t, table, 3)
}
