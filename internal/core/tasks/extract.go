package tasks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/devault/backend/internal/core/ports"
)

// errInterrupted ends a pull step early when the runner was stopped between
// entries. The step index is not advanced.
var errInterrupted = errors.New("extract: interrupted by stop")

// bulkExtract copies a user's resource folders from the device, one archive
// per folder entry.
type bulkExtract struct {
	deps     Deps
	name     string
	device   ports.Device
	srcRoot  string
	destRoot string
	folders  []string
	steps    []pipelineStep
	step     atomic.Int32
	srcByte  atomic.Int64
	failed   atomic.Bool
	watch    *growthWatch
	runner   *Runner
}

// NewBulkExtract builds a pull_res runner. Step 0 sizes every folder on the
// device; each later step pulls one folder.
func NewBulkExtract(ctx context.Context, deps Deps, name string, cb Callback, params Params) (*Runner, error) {
	user, err := params.RequireString("user")
	if err != nil {
		return nil, initError(ErrExtractInit, err)
	}
	dir, err := deps.Layout.ProjectDir(name)
	if err != nil {
		return nil, initError(ErrExtractInit, err)
	}
	if deps.Transport == nil || deps.Files == nil || deps.Extractor == nil {
		return nil, initError(ErrExtractInit, fmt.Errorf("%w: transport, files or extractor", ErrNotConfigured))
	}
	folders := params.StringSlice("folders")
	if len(folders) == 0 {
		folders = deps.Layout.ResourceFolders
	}
	for _, f := range folders {
		if err := ValidateProjectName(f); err != nil {
			return nil, initError(ErrExtractInit, fmt.Errorf("%w: folder %q", ErrInvalidParam, f))
		}
	}

	device, err := deps.Transport.Current(ctx)
	if err != nil {
		return nil, initError(ErrExtractInit, err)
	}

	b := &bulkExtract{
		deps:     deps,
		name:     name,
		device:   device,
		srcRoot:  deps.Layout.RemoteResources(user),
		destRoot: filepath.Join(dir, ResourceDirName),
		folders:  folders,
		watch:    newGrowthWatch(params.Duration("timeout", deps.Defaults.AliveTimeout), deps.Now),
	}
	b.steps = []pipelineStep{{name: "Counting", run: b.count}}
	for _, f := range folders {
		folder := f
		b.steps = append(b.steps, pipelineStep{
			name: "Pulling " + folder,
			run:  func(ctx context.Context) error { return b.pull(ctx, folder) },
		})
	}

	b.runner, err = NewRunner(name, CategoryExtract, Hooks{
		BeforeLoop: func() time.Duration {
			for _, f := range b.folders {
				if err := deps.Files.MakeDirs(filepath.Join(b.destRoot, f)); err != nil {
					deps.Logger.Warnw("extract_mkdir_failed", "task", name, "folder", f, "error", err)
				}
			}
			addChecker(deps, "Resource progress checker - "+name, CmdCheckResourceProgress, cb, b.progress)
			return 0
		},
		OnLoop:          b.loop,
		IsAlive:         b.alive,
		KillOnStop:      true,
		OnKill:          device.Close,
		Progress:        b.progress,
		StopMessage:     "Pull has been stopped",
		StopFailMessage: "Stop pull failed",
	}, deps.Logger)
	if err != nil {
		_ = device.Close()
		return nil, err
	}
	return b.runner, nil
}

func (b *bulkExtract) loop() {
	i := int(b.step.Load())
	if i >= len(b.steps) {
		b.runner.Stop(StopBySelf)
		return
	}

	b.deps.Logger.Debugw("extract_step_start", "task", b.name, "step", i, "step_name", b.steps[i].name)
	err := b.steps[i].run(b.deps.ioContext())
	switch {
	case errors.Is(err, errInterrupted):
		b.deps.Logger.Debugw("extract_step_interrupted", "task", b.name, "step", i)
		return
	case err != nil:
		b.deps.Logger.Warnw("extract_step_failed", "task", b.name, "step", i, "error", err)
		if !b.runner.StoppedByUser() {
			b.failed.Store(true)
		}
		b.runner.Stop(StopBySelf)
		return
	}
	b.step.Add(1)
}

func (b *bulkExtract) count(ctx context.Context) error {
	var total int64
	for _, f := range b.folders {
		dir := path.Join(b.srcRoot, f)
		out, err := b.device.Shell(ctx, "du -sk "+shellQuote(dir)+" 2>/dev/null || echo 0")
		if err != nil {
			return err
		}
		kb, err := leadingInt(out)
		if err != nil {
			return fmt.Errorf("size of %s: %w", dir, err)
		}
		b.deps.Logger.Debugw("extract_folder_sized", "task", b.name, "folder", f, "kb", kb)
		total += kb * 1024
	}
	b.srcByte.Store(total)
	return ensureFreeSpace(b.deps, total)
}

func (b *bulkExtract) pull(ctx context.Context, folder string) error {
	dir := path.Join(b.srcRoot, folder)
	out, err := b.device.Shell(ctx, "ls "+shellQuote(dir)+" 2>/dev/null || true")
	if err != nil {
		return err
	}
	dest := filepath.Join(b.destRoot, folder)

	for _, entry := range splitLines(out) {
		if b.runner.Stopped() {
			return errInterrupted
		}
		data, err := b.device.StreamArchive(ctx, dir, entry)
		if err != nil {
			return err
		}
		if err := b.deps.Extractor.Extract(data, dest); err != nil {
			if errors.Is(err, ports.ErrArchiveDecode) {
				b.deps.Logger.Debugw("extract_entry_skipped", "task", b.name, "folder", folder, "entry", entry, "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

func (b *bulkExtract) alive() bool {
	if int(b.step.Load()) >= len(b.steps) {
		return false
	}
	return b.watch.observe(b.deps.Files.DiskUsage(b.destRoot))
}

func (b *bulkExtract) progress() Progress {
	current := b.deps.Files.DiskUsage(b.destRoot)
	src := b.srcByte.Load()
	stopped := b.runner.Stopped()
	i := int(b.step.Load())

	p := ExtractProgress{ProjectName: b.name, Stopped: stopped}
	switch {
	case b.failed.Load():
		p.Progress = ProgressError
		p.Step = -1
		p.StepName = "Resource pull failed"
		p.Path = b.destRoot
		p.Current = current
	case i >= len(b.steps):
		p.Progress = ProgressDone
		p.Folder = b.destRoot
		p.Step = -1
		p.StepName = "Resource pull completed"
		p.Path = b.destRoot
		p.Byte = current
		p.Current = current
	case stopped:
		// Stopped before the last step: keep the fraction reached so far.
		p.Progress = partial(float64(current), float64(src))
		p.Step = -1
		p.StepName = "Resource pull incomplete"
		p.Byte = src
		p.Current = current
	case i == 0:
		p.Step = 0
		p.StepName = b.steps[0].name
	default:
		folder := b.folders[i-1]
		p.Progress = partial(float64(current), float64(src))
		p.Folder = folder
		p.Step = i
		p.StepName = b.steps[i].name
		p.Path = filepath.Join(b.destRoot, folder)
		p.Byte = src
		p.Current = current
	}
	return p
}

func leadingInt(s string) (int64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, nil
	}
	return strconv.ParseInt(fields[0], 10, 64)
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
