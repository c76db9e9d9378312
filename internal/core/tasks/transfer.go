package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/devault/backend/internal/core/ports"
)

// transfer pulls a user's encrypted database from the device into the
// project directory.
type transfer struct {
	deps     Deps
	name     string
	device   ports.Device
	dir      string
	src      string
	dest     string
	filename string
	srcByte  int64
	failed   atomic.Bool
	watch    *growthWatch
	runner   *Runner
}

// NewTransfer builds a pull_db runner. The remote size and local free space
// are checked before the runner exists, so a task that cannot fit is never
// registered.
func NewTransfer(ctx context.Context, deps Deps, name string, cb Callback, params Params) (*Runner, error) {
	user, err := params.RequireString("user")
	if err != nil {
		return nil, initError(ErrTransferInit, err)
	}
	dir, err := deps.Layout.ProjectDir(name)
	if err != nil {
		return nil, initError(ErrTransferInit, err)
	}
	if deps.Transport == nil || deps.Files == nil {
		return nil, initError(ErrTransferInit, fmt.Errorf("%w: transport or files", ErrNotConfigured))
	}

	device, err := deps.Transport.Current(ctx)
	if err != nil {
		return nil, initError(ErrTransferInit, err)
	}

	t := &transfer{
		deps:     deps,
		name:     name,
		device:   device,
		dir:      dir,
		src:      deps.Layout.RemoteDB(user),
		dest:     filepath.Join(dir, deps.Layout.EncryptedFile()),
		filename: deps.Layout.EncryptedFile(),
		watch:    newGrowthWatch(params.Duration("timeout", deps.Defaults.AliveTimeout), deps.Now),
	}

	t.srcByte, err = remoteSize(ctx, device, t.src)
	if err != nil {
		_ = device.Close()
		return nil, initError(ErrTransferInit, err)
	}
	if err := ensureFreeSpace(deps, t.srcByte); err != nil {
		_ = device.Close()
		return nil, initError(ErrTransferInit, err)
	}

	t.runner, err = NewRunner(name, CategoryTransfer, Hooks{
		BeforeLoop: func() time.Duration {
			if err := deps.Files.MakeDirs(t.dir); err != nil {
				deps.Logger.Warnw("transfer_mkdir_failed", "task", name, "dir", t.dir, "error", err)
			}
			addChecker(deps, "Db size checker - "+name, CmdCheckDBSize, cb, t.progress)
			return 0
		},
		OnLoop:          t.pull,
		IsAlive:         func() bool { return t.watch.observe(deps.Files.StatSize(t.dest)) },
		KillOnStop:      true,
		OnKill:          device.Close,
		Progress:        t.progress,
		StopMessage:     "Pull has been stopped",
		StopFailMessage: "Stop pull failed",
	}, deps.Logger)
	if err != nil {
		_ = device.Close()
		return nil, err
	}
	return t.runner, nil
}

func (t *transfer) pull() {
	defer t.runner.Stop(StopBySelf)

	t.deps.Logger.Debugw("transfer_pull_start", "task", t.name, "src", t.src, "dest", t.dest, "bytes", t.srcByte)
	if err := t.device.PullFile(t.deps.ioContext(), t.src, t.dest); err != nil {
		t.deps.Logger.Warnw("transfer_pull_failed", "task", t.name, "error", err)
		if !t.runner.StoppedByUser() {
			t.failed.Store(true)
		}
		return
	}
	t.deps.Logger.Debugw("transfer_pull_done", "task", t.name)
}

func (t *transfer) progress() Progress {
	p := TransferProgress{
		ProjectName: t.name,
		Filename:    t.filename,
		Path:        t.dest,
		Stopped:     t.runner.Stopped(),
	}
	if t.failed.Load() {
		p.Progress, p.SrcByte, p.DestByte = ProgressError, -1, -1
		return p
	}

	p.SrcByte = t.srcByte
	p.DestByte = t.deps.Files.StatSize(t.dest)
	if p.SrcByte > p.DestByte {
		p.Progress = partial(float64(p.DestByte), float64(p.SrcByte))
	} else {
		p.Progress = ProgressDone
	}
	return p
}

// remoteSize reads the byte size of a file on the device.
func remoteSize(ctx context.Context, device ports.Device, remotePath string) (int64, error) {
	out, err := device.Shell(ctx, "stat -c%s "+shellQuote(remotePath))
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: remote size of %s: %q", ErrInvalidParam, remotePath, strings.TrimSpace(out))
	}
	return size, nil
}

// ensureFreeSpace fails when the data directory cannot hold need bytes. An
// unreadable volume is logged and let through.
func ensureFreeSpace(deps Deps, need int64) error {
	free, err := deps.Files.FreeSpace(deps.Layout.DataDir)
	if err != nil {
		deps.Logger.Warnw("free_space_unknown", "dir", deps.Layout.DataDir, "error", err)
		return nil
	}
	if need > 0 && free < uint64(need) {
		return fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientSpace, need, free)
	}
	return nil
}
