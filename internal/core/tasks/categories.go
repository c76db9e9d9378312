package tasks

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/infrastructure/logger"
)

// Category names accepted by AddTask.
const (
	CategoryHeartbeat = "heartbeat"
	CategoryOnce      = "once"
	CategoryTransfer  = "pull_db"
	CategoryDecrypt   = "decrypt"
	CategoryExtract   = "pull_res"
)

// DefaultChannel is the push channel results are published on.
const DefaultChannel = "android"

// ResourceDirName is the project subdirectory bulk extraction writes to.
const ResourceDirName = "Resource"

// Constructor builds a runner for one category. ctx bounds construction-time
// I/O only; the runner's own I/O uses Deps.Context.
type Constructor func(ctx context.Context, deps Deps, name string, cb Callback, params Params) (*Runner, error)

// Categories is the registry AddTask resolves a category name against.
type Categories map[string]Constructor

func DefaultCategories() Categories {
	return Categories{
		CategoryHeartbeat: NewHeartbeat,
		CategoryOnce:      NewOnce,
		CategoryTransfer:  NewTransfer,
		CategoryDecrypt:   NewDecrypt,
		CategoryExtract:   NewBulkExtract,
	}
}

// Defaults are applied when task params do not override them.
type Defaults struct {
	AliveTimeout    time.Duration
	CheckerInterval time.Duration
}

// Layout locates artifacts on the device and in the local data directory.
type Layout struct {
	DataDir         string
	DBDir           string
	ResDir          string
	EncryptedDBName string
	DecryptedDBName string
	ResourceFolders []string
}

func DefaultLayout() Layout {
	return Layout{
		DataDir:         "data",
		DBDir:           "/data/data/com.tencent.mm",
		ResDir:          "/mnt/sdcard/tencent/MicroMsg",
		EncryptedDBName: "EnMicroMsg",
		DecryptedDBName: "DeMicroMsg",
		ResourceFolders: []string{"avatar", "emoji", "sfs", "voice2", "image2", "video"},
	}
}

// ProjectDir is the local directory holding every artifact of a project.
func (l Layout) ProjectDir(project string) (string, error) {
	if err := ValidateProjectName(project); err != nil {
		return "", err
	}
	return filepath.Join(l.DataDir, project), nil
}

func (l Layout) EncryptedFile() string { return l.EncryptedDBName + ".db" }
func (l Layout) DecryptedFile() string { return l.DecryptedDBName + ".db" }

// RemoteDB is the on-device path of a user's encrypted database.
func (l Layout) RemoteDB(user string) string {
	return path.Join(l.DBDir, "MicroMsg", user, l.EncryptedFile())
}

// RemoteResources is the on-device resource root of a user.
func (l Layout) RemoteResources(user string) string {
	return path.Join(l.ResDir, user)
}

// ValidateProjectName rejects names that would escape the data directory.
func ValidateProjectName(name string) error {
	switch {
	case strings.TrimSpace(name) == "",
		name == "." || name == "..",
		strings.ContainsAny(name, `/\`),
		strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidProjectName, name)
	}
	return nil
}

// Deps are the collaborators handed to every constructor.
type Deps struct {
	Tasks     TaskAdder
	Transport ports.DeviceTransport
	Store     ports.EncryptedStore
	Files     ports.FileObserver
	Extractor ports.ArchiveExtractor
	Commands  CommandTable
	Layout    Layout
	Defaults  Defaults
	Channel   string
	Now       func() time.Time
	Logger    *logger.Logger
	Context   context.Context
}

func (d Deps) withDefaults(tasks TaskAdder, log *logger.Logger) Deps {
	if d.Tasks == nil {
		d.Tasks = tasks
	}
	if d.Logger == nil {
		d.Logger = log
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Context == nil {
		d.Context = context.Background()
	}
	if d.Channel == "" {
		d.Channel = DefaultChannel
	}
	if d.Defaults.AliveTimeout <= 0 {
		d.Defaults.AliveTimeout = 10 * time.Second
	}
	if d.Defaults.CheckerInterval <= 0 {
		d.Defaults.CheckerInterval = time.Second
	}
	if d.Layout.DataDir == "" {
		d.Layout.DataDir = "data"
	}
	if len(d.Layout.ResourceFolders) == 0 {
		d.Layout.ResourceFolders = DefaultLayout().ResourceFolders
	}
	d.Commands = ProgressCommands().Merge(d.Commands)
	return d
}

// ioContext is the context runner steps use. Stops are cooperative, so
// in-flight I/O never sees a cancellation.
func (d Deps) ioContext() context.Context {
	if d.Context == nil {
		return context.Background()
	}
	return context.WithoutCancel(d.Context)
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// sqlQuote escapes s for use inside a single-quoted SQL literal.
func sqlQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// growthWatch implements the pipelines' liveness rule: alive while the
// observed byte counter changed recently.
type growthWatch struct {
	timeout    time.Duration
	now        func() time.Time
	last       int64
	lastChange time.Time
}

func newGrowthWatch(timeout time.Duration, now func() time.Time) *growthWatch {
	return &growthWatch{timeout: timeout, now: now, last: -1, lastChange: now()}
}

// observe records size and reports whether the counter moved within timeout.
func (w *growthWatch) observe(size int64) bool {
	now := w.now()
	if size != w.last {
		w.last = size
		w.lastChange = now
		return true
	}
	return now.Sub(w.lastChange) <= w.timeout
}

// addChecker spawns the heartbeat that samples a pipeline's progress.
func addChecker(deps Deps, checker string, cmd CommandKind, cb Callback, progress ProgressFunc) {
	ok, err := deps.Tasks.AddTask(deps.ioContext(), checker, CategoryHeartbeat, cb, Params{
		"command":  string(cmd),
		"interval": deps.Defaults.CheckerInterval,
		"progress": progress,
	})
	if err != nil || !ok {
		deps.Logger.Warnw("checker_add_failed", "checker", checker, "added", ok, "error", err)
	}
}
