package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/infrastructure/logger"
)

const (
	waitFor = 2 * time.Second
	poll    = 5 * time.Millisecond
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeDevice struct {
	mu     sync.Mutex
	cmds   []string
	shell  func(cmd string) (string, error)
	pull   func(remote, local string) error
	stream func(dir, entry string) ([]byte, error)
	pulled [][2]string
	closed atomic.Int32
}

func (d *fakeDevice) Serial() string { return "emulator-5554" }

func (d *fakeDevice) Shell(_ context.Context, cmd string) (string, error) {
	d.mu.Lock()
	d.cmds = append(d.cmds, cmd)
	fn := d.shell
	d.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(cmd)
}

func (d *fakeDevice) PullFile(_ context.Context, remote, local string) error {
	d.mu.Lock()
	d.pulled = append(d.pulled, [2]string{remote, local})
	fn := d.pull
	d.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(remote, local)
}

func (d *fakeDevice) StreamArchive(_ context.Context, dir, entry string) ([]byte, error) {
	if d.stream == nil {
		return []byte(dir + "/" + entry), nil
	}
	return d.stream(dir, entry)
}

func (d *fakeDevice) Close() error {
	d.closed.Add(1)
	return nil
}

func (d *fakeDevice) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.cmds...)
}

type fakeTransport struct {
	device *fakeDevice
	err    error
}

func (t *fakeTransport) ListDevices(context.Context) ([]string, error) {
	if t.device == nil {
		return nil, nil
	}
	return []string{t.device.Serial()}, nil
}

func (t *fakeTransport) Current(context.Context) (ports.Device, error) {
	if t.err != nil {
		return nil, t.err
	}
	if t.device == nil {
		return nil, ports.ErrNoDevice
	}
	return t.device, nil
}

type fakeFiles struct {
	mu      sync.Mutex
	sizes   map[string]int64
	usage   map[string]int64
	free    uint64
	freeErr error
	dirs    []string
	removed []string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		sizes: make(map[string]int64),
		usage: make(map[string]int64),
		free:  1 << 40,
	}
}

func (f *fakeFiles) Set(path string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[path] = size
}

func (f *fakeFiles) SetUsage(path string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[path] = size
}

func (f *fakeFiles) StatSize(path string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizes[path]
}

func (f *fakeFiles) DiskUsage(path string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[path]
}

func (f *fakeFiles) Exists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sizes[path]
	return ok
}

func (f *fakeFiles) MakeDirs(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, path)
	return nil
}

func (f *fakeFiles) RemoveRecursive(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	delete(f.sizes, path)
	return nil
}

func (f *fakeFiles) FreeSpace(string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free, f.freeErr
}

func (f *fakeFiles) madeDirs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dirs...)
}

type fakeSession struct {
	store *fakeStore
	path  string
}

func (s *fakeSession) Exec(_ context.Context, stmt string) error {
	s.store.mu.Lock()
	s.store.stmts = append(s.store.stmts, stmt)
	fn := s.store.exec
	s.store.mu.Unlock()
	if fn != nil {
		return fn(stmt)
	}
	return nil
}

func (s *fakeSession) ExportTo(_ context.Context, path, key string) error {
	s.store.mu.Lock()
	s.store.exports = append(s.store.exports, [2]string{path, key})
	s.store.mu.Unlock()
	return s.store.exportErr
}

func (s *fakeSession) Close() error { return nil }

type fakeStore struct {
	mu        sync.Mutex
	open      func(path string) error
	exec      func(stmt string) error
	exportErr error
	opened    []string
	stmts     []string
	exports   [][2]string
}

func (s *fakeStore) Open(_ context.Context, path string) (ports.StoreSession, error) {
	s.mu.Lock()
	s.opened = append(s.opened, path)
	fn := s.open
	s.mu.Unlock()
	if fn != nil {
		if err := fn(path); err != nil {
			return nil, err
		}
	}
	return &fakeSession{store: s, path: path}, nil
}

func (s *fakeStore) statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stmts...)
}

type fakeExtractor struct {
	fn func(data []byte, dest string) error
}

func (e *fakeExtractor) Extract(data []byte, dest string) error {
	if e.fn == nil {
		return nil
	}
	return e.fn(data, dest)
}

type addCall struct {
	Name     string
	Category string
	Params   Params
}

type fakeAdder struct {
	mu    sync.Mutex
	calls []addCall
}

func (a *fakeAdder) AddTask(_ context.Context, name, category string, _ Callback, params Params) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, addCall{Name: name, Category: category, Params: params})
	return true, nil
}

func (a *fakeAdder) added() []addCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]addCall(nil), a.calls...)
}

type results struct {
	mu  sync.Mutex
	got []Result
	chs []string
}

func (r *results) callback(channel string, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, res)
	r.chs = append(r.chs, channel)
}

func (r *results) all() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.got...)
}

func (r *results) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

type env struct {
	clock     *fakeClock
	device    *fakeDevice
	transport *fakeTransport
	files     *fakeFiles
	store     *fakeStore
	extractor *fakeExtractor
	adder     *fakeAdder
	results   *results
	deps      Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock:     newFakeClock(),
		device:    &fakeDevice{},
		files:     newFakeFiles(),
		store:     &fakeStore{},
		extractor: &fakeExtractor{},
		adder:     &fakeAdder{},
		results:   &results{},
	}
	e.transport = &fakeTransport{device: e.device}
	e.deps = Deps{
		Transport: e.transport,
		Store:     e.store,
		Files:     e.files,
		Extractor: e.extractor,
		Layout:    DefaultLayout(),
		Defaults:  Defaults{AliveTimeout: 10 * time.Second, CheckerInterval: 10 * time.Millisecond},
		Now:       e.clock.Now,
	}.withDefaults(e.adder, logger.NewNop())
	return e
}

// onShell answers shell commands by prefix.
func (e *env) onShell(answers map[string]string) {
	e.device.shell = func(cmd string) (string, error) {
		for prefix, out := range answers {
			if strings.HasPrefix(cmd, prefix) {
				return out, nil
			}
		}
		return "", errors.New("unexpected command: " + cmd)
	}
}
