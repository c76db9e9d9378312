package tasks

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Store settings applied before exporting a legacy encrypted database.
var exportPragmas = []string{
	"PRAGMA cipher_use_hmac = OFF;",
	"PRAGMA cipher_page_size = 4096;",
	"PRAGMA kdf_iter = 256000;",
}

type pipelineStep struct {
	name string
	run  func(ctx context.Context) error
}

// decrypt migrates the pulled database to the current cipher format and
// exports it into a plain database next to it.
type decrypt struct {
	deps     Deps
	name     string
	password string
	src      string
	dest     string
	temp     []string
	srcByte  int64
	steps    []pipelineStep
	step     atomic.Int32
	failed   atomic.Bool
	watch    *growthWatch
	runner   *Runner
}

func NewDecrypt(_ context.Context, deps Deps, name string, cb Callback, params Params) (*Runner, error) {
	password, err := params.RequireString("password")
	if err != nil {
		return nil, initError(ErrDecryptInit, err)
	}
	dir, err := deps.Layout.ProjectDir(name)
	if err != nil {
		return nil, initError(ErrDecryptInit, err)
	}
	if deps.Store == nil || deps.Files == nil {
		return nil, initError(ErrDecryptInit, fmt.Errorf("%w: store or files", ErrNotConfigured))
	}

	d := &decrypt{
		deps:     deps,
		name:     name,
		password: password,
		src:      filepath.Join(dir, deps.Layout.EncryptedFile()),
		dest:     filepath.Join(dir, deps.Layout.DecryptedFile()),
		watch:    newGrowthWatch(params.Duration("timeout", deps.Defaults.AliveTimeout), deps.Now),
	}
	d.srcByte = deps.Files.StatSize(d.src)
	if d.srcByte <= 0 {
		return nil, initError(ErrDecryptInit, fmt.Errorf("%w: %s", ErrEmptySource, d.src))
	}
	d.temp = []string{d.src + "-migrated", d.dest}
	d.steps = []pipelineStep{
		{name: "Migrating", run: d.migrate},
		{name: "Decrypting", run: d.export},
	}

	d.runner, err = NewRunner(name, CategoryDecrypt, Hooks{
		BeforeLoop: func() time.Duration {
			d.clearStale()
			addChecker(deps, "Decrypt checker - "+name, CmdCheckDecryptProgress, cb, d.progress)
			return 0
		},
		OnLoop:     d.loop,
		IsAlive:    d.alive,
		KillOnStop: true,
		Progress:   d.progress,
	}, deps.Logger)
	if err != nil {
		return nil, err
	}
	return d.runner, nil
}

func (d *decrypt) loop() {
	i := int(d.step.Load())
	if i >= len(d.steps) {
		d.runner.Stop(StopBySelf)
		return
	}

	d.deps.Logger.Debugw("decrypt_step_start", "task", d.name, "step", i, "step_name", d.steps[i].name)
	if err := d.steps[i].run(d.deps.ioContext()); err != nil {
		d.deps.Logger.Warnw("decrypt_step_failed", "task", d.name, "step", i, "error", err)
		if !d.runner.StoppedByUser() {
			d.failed.Store(true)
		}
		d.runner.Stop(StopBySelf)
		return
	}
	d.step.Add(1)
	d.deps.Logger.Debugw("decrypt_step_done", "task", d.name, "step", i)
}

func (d *decrypt) keyPragma() string {
	return fmt.Sprintf("PRAGMA key = '%s';", sqlQuote(d.password))
}

func (d *decrypt) migrate(ctx context.Context) error {
	s, err := d.deps.Store.Open(ctx, d.src)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, stmt := range []string{d.keyPragma(), "PRAGMA cipher_migrate;"} {
		if err := s.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// clearStale drops a decrypted copy left by an earlier run before any
// progress sample can read its size.
func (d *decrypt) clearStale() {
	if !d.deps.Files.Exists(d.dest) {
		return
	}
	if err := d.deps.Files.RemoveRecursive(d.dest); err != nil {
		d.deps.Logger.Warnw("decrypt_clear_stale_failed", "task", d.name, "path", d.dest, "error", err)
	}
}

func (d *decrypt) export(ctx context.Context) error {
	if d.deps.Files.Exists(d.dest) {
		if err := d.deps.Files.RemoveRecursive(d.dest); err != nil {
			return err
		}
	}

	s, err := d.deps.Store.Open(ctx, d.src)
	if err != nil {
		return err
	}
	defer s.Close()

	stmts := append([]string{d.keyPragma()}, exportPragmas...)
	for _, stmt := range stmts {
		if err := s.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return s.ExportTo(ctx, d.dest, "")
}

func (d *decrypt) alive() bool {
	i := int(d.step.Load())
	if i >= len(d.steps) {
		return false
	}
	return d.watch.observe(d.deps.Files.StatSize(d.temp[i]))
}

func (d *decrypt) progress() Progress {
	p := DecryptProgress{ProjectName: d.name, Stopped: d.runner.Stopped()}
	if d.failed.Load() {
		p.Progress = ProgressError
		p.Filename = filepath.Base(d.dest)
		p.StepName = "Decryption failed"
		p.Path = d.dest
		return p
	}

	i := int(d.step.Load())
	if i >= len(d.steps) {
		p.Progress = ProgressDone
		p.Filename = filepath.Base(d.dest)
		p.StepName = "Decryption completed"
		p.Path = d.dest
		p.Byte = d.deps.Files.StatSize(d.dest)
		return p
	}

	size := d.deps.Files.StatSize(d.temp[i])
	p.Progress = stepFraction(size, d.srcByte, i, len(d.steps))
	p.Filename = filepath.Base(d.temp[i])
	p.StepName = d.steps[i].name
	p.Path = d.temp[i]
	p.Byte = size
	return p
}

// stepFraction spreads a multi-step pipeline evenly over [0,1): each
// completed step contributes 1/steps and the current step its byte ratio.
func stepFraction(size, total int64, step, steps int) float64 {
	if total <= 0 || steps <= 0 {
		return 0
	}
	n := float64(steps)
	f := float64(size)/float64(total)/n + float64(step)/n
	return Truncate(math.Min(f, maxPartial))
}
