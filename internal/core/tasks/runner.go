package tasks

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devault/backend/internal/infrastructure/logger"
)

// DefaultInterval is the pause between loop iterations when BeforeLoop does
// not supply one.
const DefaultInterval = 100 * time.Millisecond

const (
	defaultStopMessage     = "Task has stopped"
	defaultStopFailMessage = "Task stop failed"
)

// StopReason records who asked a runner to stop.
type StopReason int32

const (
	StopNone StopReason = iota
	StopByUser
	StopByDaemon
	StopBySelf
)

func (r StopReason) String() string {
	switch r {
	case StopByUser:
		return "user"
	case StopByDaemon:
		return "daemon"
	case StopBySelf:
		return "self"
	default:
		return "none"
	}
}

// StopResult is the (success, stopped, message) triple returned by Stop.
type StopResult struct {
	OK      bool   `json:"ok"`
	Stopped bool   `json:"stopped"`
	Message string `json:"message"`
}

// Hooks are the strategy functions that give a Runner its behaviour. Every
// field is optional.
type Hooks struct {
	// BeforeLoop runs on the runner goroutine and returns the loop interval.
	BeforeLoop func() time.Duration
	OnLoop     func()
	AfterLoop  func()
	BeforeStop func() error
	AfterStop  func() error
	// IsAlive is evaluated by the daemon only. Nil means always alive.
	IsAlive func() bool
	// KillOnStop selects full removal over tombstoning once stopped.
	KillOnStop bool
	// OnKill releases resources when the daemon kills the runner.
	OnKill   func() error
	Progress ProgressFunc

	StopMessage     string
	StopFailMessage string
}

// Runner is one unit of cancellable background work with its own goroutine.
// States go constructed -> running -> stopped; stopped is terminal.
type Runner struct {
	name     string
	category string
	hooks    Hooks
	log      *logger.Logger

	startOnce sync.Once
	started   atomic.Bool
	stopMu    sync.Mutex
	stopped   atomic.Bool
	reason    atomic.Int32
	runCount  atomic.Int64

	stopCh chan struct{}
	done   chan struct{}
}

func NewRunner(name, category string, hooks Hooks, log *logger.Logger) (*Runner, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %w: name", ErrRunnerInit, ErrMissingParam)
	}
	if log == nil {
		log = logger.NewNop()
	}
	if hooks.StopMessage == "" {
		hooks.StopMessage = defaultStopMessage
	}
	if hooks.StopFailMessage == "" {
		hooks.StopFailMessage = defaultStopFailMessage
	}
	return &Runner{
		name:     name,
		category: category,
		hooks:    hooks,
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (r *Runner) Name() string     { return r.name }
func (r *Runner) Category() string { return r.category }
func (r *Runner) Started() bool    { return r.started.Load() }
func (r *Runner) Stopped() bool    { return r.stopped.Load() }
func (r *Runner) RunCount() int64  { return r.runCount.Load() }

func (r *Runner) StopReason() StopReason { return StopReason(r.reason.Load()) }

// StoppedByUser reports a user-initiated stop. Pipelines use it to decide
// whether a failing step is an error or an expected interruption.
func (r *Runner) StoppedByUser() bool { return r.StopReason() == StopByUser }

// Done is closed when the runner goroutine has returned.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Start launches the runner goroutine. Later calls do nothing.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.run()
	})
}

func (r *Runner) run() {
	defer close(r.done)

	interval := DefaultInterval
	if r.hooks.BeforeLoop != nil {
		if d := r.hooks.BeforeLoop(); d > 0 {
			interval = d
		}
	}

	for !r.stopped.Load() {
		n := r.runCount.Add(1)
		r.log.Debugw("runner_loop_start", "task", r.name, "run", n)
		r.loopOnce()
		if !r.sleep(interval) {
			break
		}
		r.log.Debugw("runner_loop_end", "task", r.name, "run", n)
	}

	if r.hooks.AfterLoop != nil {
		r.hooks.AfterLoop()
	}
	r.log.Debugw("runner_finished", "task", r.name, "runs", r.runCount.Load(), "reason", r.StopReason().String())
}

// loopOnce runs OnLoop; a panic stops the runner instead of the process.
func (r *Runner) loopOnce() {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorw("runner_loop_panic", "task", r.name, "panic", p)
			r.Stop(StopBySelf)
		}
	}()
	if r.hooks.OnLoop != nil {
		r.hooks.OnLoop()
	}
}

// sleep waits for the interval and reports false when woken by a stop.
func (r *Runner) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// Stop asks the runner to finish. The goroutine notices between loop
// iterations; in-flight work is not interrupted. Stopping a stopped runner
// reports success without re-running the hooks.
func (r *Runner) Stop(reason StopReason) (res StopResult) {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	if r.stopped.Load() {
		return StopResult{OK: true, Stopped: true, Message: r.hooks.StopMessage}
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Errorw("runner_stop_panic", "task", r.name, "panic", p)
			res = StopResult{OK: false, Stopped: r.stopped.Load(), Message: r.hooks.StopFailMessage}
		}
	}()

	r.log.Debugw("runner_stop_start", "task", r.name, "reason", reason.String())
	if r.hooks.BeforeStop != nil {
		if err := r.hooks.BeforeStop(); err != nil {
			r.log.Warnw("runner_before_stop_failed", "task", r.name, "error", err)
			return StopResult{OK: false, Stopped: false, Message: r.hooks.StopFailMessage}
		}
	}

	r.reason.Store(int32(reason))
	r.stopped.Store(true)
	close(r.stopCh)

	if r.hooks.AfterStop != nil {
		if err := r.hooks.AfterStop(); err != nil {
			r.log.Warnw("runner_after_stop_failed", "task", r.name, "error", err)
			return StopResult{OK: false, Stopped: true, Message: r.hooks.StopFailMessage}
		}
	}
	r.log.Debugw("runner_stop_end", "task", r.name)
	return StopResult{OK: true, Stopped: true, Message: r.hooks.StopMessage}
}

// IsAlive evaluates the liveness hook. A panicking hook counts as dead.
func (r *Runner) IsAlive() (alive bool) {
	if r.hooks.IsAlive == nil {
		return true
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorw("runner_alive_panic", "task", r.name, "panic", p)
			alive = false
		}
	}()
	return r.hooks.IsAlive()
}

func (r *Runner) KillOnStop() bool { return r.hooks.KillOnStop }

// Kill runs the OnKill cleanup hook.
func (r *Runner) Kill() (err error) {
	if r.hooks.OnKill == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("on_kill panic: %v", p)
		}
	}()
	return r.hooks.OnKill()
}

// Progress samples the runner's progress, if it has any.
func (r *Runner) Progress() (Progress, error) {
	if r.hooks.Progress == nil {
		return nil, errNoProgress
	}
	return r.hooks.Progress(), nil
}

var errNoProgress = errors.New("runner: no progress source")
