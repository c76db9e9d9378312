package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// NewHeartbeat builds a runner that invokes a command every interval and
// forwards each result to cb. It stays alive until the command's liveness
// predicate says otherwise.
func NewHeartbeat(_ context.Context, deps Deps, name string, cb Callback, params Params) (*Runner, error) {
	if cb == nil {
		return nil, initError(ErrHeartbeatInit, fmt.Errorf("%w: callback", ErrMissingParam))
	}
	command, err := params.RequireString("command")
	if err != nil {
		return nil, initError(ErrHeartbeatInit, err)
	}
	interval := params.Duration("interval", 0)
	if interval <= 0 {
		return nil, initError(ErrHeartbeatInit, fmt.Errorf("%w: interval", ErrMissingParam))
	}
	cmd, err := deps.Commands.Resolve(CommandKind(command))
	if err != nil {
		return nil, initError(ErrHeartbeatInit, err)
	}

	args := params.Without("command")
	ioCtx := deps.ioContext()
	hooks := Hooks{
		BeforeLoop: func() time.Duration { return interval },
		OnLoop: func() {
			cb(deps.Channel, NewResult(command, name, cmd.Work(ioCtx, name, args)))
		},
		KillOnStop: true,
	}
	if cmd.Alive != nil {
		aliveCtx := deps.Context
		hooks.IsAlive = func() bool { return cmd.Alive(aliveCtx, name, args) }
	}

	return NewRunner(name, CategoryHeartbeat, hooks, deps.Logger)
}

// NewOnce builds a runner that invokes a command a single time. It reports
// itself dead once the result has been delivered, or once the work has been
// running longer than timeout, so the daemon reaps it on the next tick.
func NewOnce(_ context.Context, deps Deps, name string, cb Callback, params Params) (*Runner, error) {
	if cb == nil {
		return nil, initError(ErrOnceInit, fmt.Errorf("%w: callback", ErrMissingParam))
	}
	command, err := params.RequireString("command")
	if err != nil {
		return nil, initError(ErrOnceInit, err)
	}
	cmd, err := deps.Commands.Resolve(CommandKind(command))
	if err != nil {
		return nil, initError(ErrOnceInit, err)
	}

	timeout := params.Duration("timeout", deps.Defaults.AliveTimeout)
	args := params.Without("command", "timeout")
	ioCtx := deps.ioContext()
	var claimed, delivered atomic.Bool
	var claimedAt atomic.Int64
	hooks := Hooks{
		OnLoop: func() {
			if !claimed.CompareAndSwap(false, true) {
				return
			}
			claimedAt.Store(deps.Now().UnixNano())
			defer delivered.Store(true)
			cb(deps.Channel, NewResult(command, name, cmd.Work(ioCtx, name, args)))
		},
		IsAlive: func() bool {
			if delivered.Load() {
				return false
			}
			at := claimedAt.Load()
			if at == 0 {
				return true
			}
			return deps.Now().Sub(time.Unix(0, at)) <= timeout
		},
		KillOnStop: true,
	}

	return NewRunner(name, CategoryOnce, hooks, deps.Logger)
}
