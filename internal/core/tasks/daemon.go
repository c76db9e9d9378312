package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devault/backend/internal/infrastructure/logger"
)

// DefaultTickInterval is the controller period when none is configured.
const DefaultTickInterval = time.Second

// TaskInfo is one row of QueryTasks. Running is false for tombstoned tasks.
type TaskInfo struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Running  bool   `json:"running"`
}

// RunnerMethod names the runner operations reachable through Call.
type RunnerMethod string

const (
	MethodStop        RunnerMethod = "stop"
	MethodProgress    RunnerMethod = "progress"
	MethodIsTaskAlive RunnerMethod = "is_task_alive"
	MethodRunCount    RunnerMethod = "run_count"
)

// TaskAdder is the part of the daemon pipelines need to spawn their checker.
type TaskAdder interface {
	AddTask(ctx context.Context, name, category string, cb Callback, params Params) (bool, error)
}

type EventType string

const (
	EventTaskAdded      EventType = "TASK_ADDED"
	EventTaskStopped    EventType = "TASK_STOPPED"
	EventTaskTombstoned EventType = "TASK_TOMBSTONED"
	EventTaskKilled     EventType = "TASK_KILLED"
	EventTaskFault      EventType = "TASK_FAULT"
)

// TaskEvent is a lifecycle transition observed by the daemon.
type TaskEvent struct {
	Task     string
	Category string
	Type     EventType
	Detail   string
	At       time.Time
}

// EventRecorder receives lifecycle events. Implementations must not block:
// the daemon calls them from the controller goroutine.
type EventRecorder interface {
	RecordTaskEvent(ev TaskEvent)
}

type DaemonConfig struct {
	TickInterval time.Duration
	Categories   Categories
	Deps         Deps
	Recorder     EventRecorder
	Logger       *logger.Logger
}

// Daemon owns the task registry. The name map and the running-order list are
// only touched by the controller goroutine; every public method is a request
// executed there.
type Daemon struct {
	interval   time.Duration
	categories Categories
	deps       Deps
	recorder   EventRecorder
	log        *logger.Logger

	runners    map[string]*Runner
	order      []*Runner // nil slots are tombstones
	registered []string

	requests chan func()
	quit     chan struct{}
	done     chan struct{}
	running  atomic.Bool
	started  atomic.Bool
	exitOnce sync.Once
}

func NewDaemon(cfg DaemonConfig) *Daemon {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Categories == nil {
		cfg.Categories = DefaultCategories()
	}

	d := &Daemon{
		interval:   cfg.TickInterval,
		categories: cfg.Categories,
		recorder:   cfg.Recorder,
		log:        cfg.Logger,
		runners:    make(map[string]*Runner),
		requests:   make(chan func()),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	d.deps = cfg.Deps.withDefaults(d, cfg.Logger)
	return d
}

// Start launches the controller goroutine. ctx is the base context for
// runner I/O; cancelling it does not stop the daemon, Exit does.
func (d *Daemon) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.deps.Context = ctx
	d.running.Store(true)
	go d.loop()
	d.log.Infow("daemon_started", "tick_interval", d.interval)
}

func (d *Daemon) loop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		// A closed quit wins over requests still waiting to be taken.
		select {
		case <-d.quit:
			d.log.Infow("daemon_stopped")
			return
		default:
		}
		select {
		case <-d.quit:
			d.log.Infow("daemon_stopped")
			return
		case req := <-d.requests:
			req()
		case <-ticker.C:
			d.tick()
		}
	}
}

// do runs fn on the controller goroutine and waits for it.
func (d *Daemon) do(ctx context.Context, fn func()) error {
	if !d.running.Load() {
		return ErrDaemonNotRunning
	}
	reply := make(chan struct{})
	req := func() {
		defer close(reply)
		defer func() {
			if p := recover(); p != nil {
				d.log.Errorw("daemon_request_panic", "panic", p)
			}
		}()
		fn()
	}

	select {
	case d.requests <- req:
	case <-d.quit:
		return ErrDaemonNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-reply
	return nil
}

// AddTask constructs a runner for category and registers it under name. A
// duplicate name reports false and changes nothing. Construction failures are
// returned as init errors and nothing is registered.
func (d *Daemon) AddTask(ctx context.Context, name, category string, cb Callback, params Params) (bool, error) {
	if !d.running.Load() {
		return false, ErrDaemonNotRunning
	}
	ctor, ok := d.categories[category]
	if !ok {
		return false, initError(ErrRunnerInit, fmt.Errorf("%w: %s", ErrUnknownCategory, category))
	}

	exists, err := d.HasTask(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		d.log.Infow("task_add_duplicate", "task", name, "category", category)
		return false, nil
	}

	r, err := ctor(ctx, d.deps, name, cb, params.Clone())
	if err != nil {
		d.log.Warnw("task_add_failed", "task", name, "category", category, "error", err)
		return false, err
	}
	r.category = category

	added := false
	err = d.do(ctx, func() {
		if _, dup := d.runners[name]; dup {
			return
		}
		d.runners[name] = r
		d.order = append(d.order, r)
		d.registered = append(d.registered, name)
		added = true
		d.record(r, EventTaskAdded, "")
	})
	if err != nil || !added {
		// Lost a race with another AddTask for the same name.
		if kerr := r.Kill(); kerr != nil {
			d.log.Warnw("task_release_failed", "task", name, "error", kerr)
		}
		return false, err
	}

	d.log.Infow("task_added", "task", name, "category", category)
	return true, nil
}

// KillTask stops the task if needed, runs its cleanup hook and removes it.
// An unknown name is a successful no-op. It reports false only when the
// cleanup hook fails.
func (d *Daemon) KillTask(ctx context.Context, name string) (bool, error) {
	ok := true
	err := d.do(ctx, func() {
		r, exists := d.runners[name]
		if !exists {
			return
		}
		if !r.Stopped() {
			r.Stop(StopByUser)
		}
		if kerr := r.Kill(); kerr != nil {
			d.log.Errorw("task_kill_failed", "task", name, "error", kerr)
			d.record(r, EventTaskFault, kerr.Error())
			ok = false
			return
		}
		d.remove(r)
		d.order = compact(d.order)
		d.record(r, EventTaskKilled, "user")
	})
	if err != nil {
		return false, err
	}
	if ok {
		d.log.Infow("task_killed", "task", name)
	}
	return ok, nil
}

// QueryTasks lists registered tasks in registration order.
func (d *Daemon) QueryTasks(ctx context.Context) ([]TaskInfo, error) {
	var out []TaskInfo
	err := d.do(ctx, func() {
		active := make(map[*Runner]bool, len(d.order))
		for _, r := range d.order {
			if r != nil {
				active[r] = true
			}
		}
		out = make([]TaskInfo, 0, len(d.registered))
		for _, name := range d.registered {
			r := d.runners[name]
			out = append(out, TaskInfo{Name: name, Category: r.Category(), Running: active[r]})
		}
	})
	return out, err
}

func (d *Daemon) HasTask(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := d.do(ctx, func() {
		_, exists = d.runners[name]
	})
	return exists, err
}

// HasTaskRunning reports whether name is registered and not tombstoned.
func (d *Daemon) HasTaskRunning(ctx context.Context, name string) (bool, error) {
	var running bool
	err := d.do(ctx, func() {
		r, ok := d.runners[name]
		if !ok {
			return
		}
		for _, slot := range d.order {
			if slot == r {
				running = true
				return
			}
		}
	})
	return running, err
}

func (d *Daemon) Runner(ctx context.Context, name string) (*Runner, error) {
	var r *Runner
	err := d.do(ctx, func() {
		r = d.runners[name]
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return r, nil
}

// Call invokes a runner method by name. Stop takes an optional StopReason
// argument and defaults to a user stop.
func (d *Daemon) Call(ctx context.Context, name string, method RunnerMethod, args ...any) (any, error) {
	switch method {
	case MethodIsTaskAlive:
		var (
			alive bool
			found bool
		)
		err := d.do(ctx, func() {
			if r, ok := d.runners[name]; ok {
				found = true
				alive = r.IsAlive()
			}
		})
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
		}
		return alive, nil
	case MethodStop, MethodProgress, MethodRunCount:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	r, err := d.Runner(ctx, name)
	if err != nil {
		return nil, err
	}

	switch method {
	case MethodStop:
		reason := StopByUser
		if len(args) > 0 {
			if rs, ok := args[0].(StopReason); ok {
				reason = rs
			}
		}
		res := r.Stop(reason)
		d.log.Infow("task_stop_called", "task", name, "reason", reason.String(), "ok", res.OK)
		return res, nil
	case MethodProgress:
		return r.Progress()
	default:
		return r.RunCount(), nil
	}
}

// tick runs one controller pass.
func (d *Daemon) tick() {
	d.order = compact(d.order)
	for i := range d.order {
		d.visit(i)
	}
}

func (d *Daemon) visit(i int) {
	r := d.order[i]
	if r == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			d.log.Errorw("task_fault", "task", r.Name(), "panic", p)
			d.order[i] = nil
			d.record(r, EventTaskFault, fmt.Sprint(p))
			func() {
				defer func() { _ = recover() }()
				r.Stop(StopByDaemon)
			}()
		}
	}()

	if !r.Started() {
		r.Start()
	}
	if !r.IsAlive() {
		res := r.Stop(StopByDaemon)
		d.log.Infow("task_not_alive", "task", r.Name(), "stop_ok", res.OK)
		d.record(r, EventTaskStopped, r.StopReason().String())
	}
	if !r.Stopped() {
		return
	}

	if r.KillOnStop() {
		if err := r.Kill(); err != nil {
			d.log.Errorw("task_kill_failed", "task", r.Name(), "error", err)
			d.record(r, EventTaskFault, err.Error())
		}
		d.remove(r)
		d.record(r, EventTaskKilled, r.StopReason().String())
		d.log.Debugw("task_reaped", "task", r.Name())
		return
	}
	d.order[i] = nil
	d.record(r, EventTaskTombstoned, r.StopReason().String())
	d.log.Debugw("task_tombstoned", "task", r.Name())
}

// remove drops r from every structure. Slots are nilled rather than spliced
// so an in-progress tick keeps valid indices.
func (d *Daemon) remove(r *Runner) {
	delete(d.runners, r.Name())
	for i, slot := range d.order {
		if slot == r {
			d.order[i] = nil
		}
	}
	for i, name := range d.registered {
		if name == r.Name() {
			d.registered = append(d.registered[:i], d.registered[i+1:]...)
			break
		}
	}
}

// compact drops tombstones and keeps the survivors in their original order.
func compact(order []*Runner) []*Runner {
	out := order[:0]
	for _, r := range order {
		if r != nil {
			out = append(out, r)
		}
	}
	for i := len(out); i < len(order); i++ {
		order[i] = nil
	}
	return out
}

func (d *Daemon) record(r *Runner, typ EventType, detail string) {
	if d.recorder == nil {
		return
	}
	d.recorder.RecordTaskEvent(TaskEvent{
		Task:     r.Name(),
		Category: r.Category(),
		Type:     typ,
		Detail:   detail,
		At:       d.deps.Now(),
	})
}

// Exit stops every live runner, clears the registry and ends the controller.
// Only the first call has any effect.
func (d *Daemon) Exit() {
	d.exitOnce.Do(func() {
		if !d.started.Load() {
			return
		}
		stopped := false
		err := d.do(context.Background(), func() {
			d.running.Store(false)
			close(d.quit)
			stopped = true
			for _, r := range d.runners {
				if !r.Stopped() {
					r.Stop(StopByDaemon)
				}
			}
			d.log.Infow("daemon_exit", "tasks", len(d.runners))
			d.runners = make(map[string]*Runner)
			d.order = nil
			d.registered = nil
		})
		if err != nil {
			d.log.Warnw("daemon_exit_failed", "error", err)
		}
		if !stopped {
			d.running.Store(false)
			close(d.quit)
		}
	})
}

// Join waits for the controller goroutine to return.
func (d *Daemon) Join() {
	if !d.started.Load() {
		return
	}
	<-d.done
}
