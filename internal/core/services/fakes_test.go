package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/domain"
)

type fakeDevice struct {
	serial string
	shell  map[string]string
	closed int
}

func (d *fakeDevice) Serial() string { return d.serial }

func (d *fakeDevice) Shell(_ context.Context, cmd string) (string, error) {
	for prefix, out := range d.shell {
		if strings.HasPrefix(cmd, prefix) {
			return out, nil
		}
	}
	return "", errors.New("unexpected command: " + cmd)
}

func (d *fakeDevice) PullFile(context.Context, string, string) error { return nil }

func (d *fakeDevice) StreamArchive(context.Context, string, string) ([]byte, error) {
	return nil, nil
}

func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

type fakeTransport struct {
	device *fakeDevice
}

func (t *fakeTransport) ListDevices(context.Context) ([]string, error) {
	if t.device == nil {
		return nil, nil
	}
	return []string{t.device.serial}, nil
}

func (t *fakeTransport) Current(context.Context) (ports.Device, error) {
	if t.device == nil {
		return nil, ports.ErrNoDevice
	}
	return t.device, nil
}

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[string]*domain.Project
	nextID   uint
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: make(map[string]*domain.Project)}
}

func (r *fakeProjectRepo) Create(_ context.Context, p *domain.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	cp := *p
	r.projects[p.Name] = &cp
	return nil
}

func (r *fakeProjectRepo) GetByName(_ context.Context, name string) (*domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProjectRepo) GetAll(context.Context) ([]domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Project
	for _, p := range r.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (r *fakeProjectRepo) UpdateResourceSize(_ context.Context, name string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[name]
	if !ok {
		return ports.ErrRecordNotFound
	}
	p.ResourceSize = size
	return nil
}

func (r *fakeProjectRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, name)
	return nil
}

// fakeFiles is an in-memory FileObserver. Directories are recorded as
// existing paths with size 0.
type fakeFiles struct {
	mu      sync.Mutex
	sizes   map[string]int64
	removed []string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{sizes: make(map[string]int64)}
}

func (f *fakeFiles) Set(path string, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes[path] = size
}

func (f *fakeFiles) StatSize(path string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sizes[path]
}

func (f *fakeFiles) DiskUsage(path string) int64 { return f.StatSize(path) }

func (f *fakeFiles) Exists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sizes[path]
	return ok
}

func (f *fakeFiles) MakeDirs(path string) error {
	f.Set(path, 0)
	return nil
}

func (f *fakeFiles) RemoveRecursive(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p := range f.sizes {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(f.sizes, p)
		}
	}
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeFiles) FreeSpace(string) (uint64, error) { return 1 << 40, nil }

type published struct {
	channel string
	event   string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	frames []published
}

func (p *fakePublisher) Publish(channel, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, published{channel, event, payload})
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.frames...)
}

type fakeTimelineRepo struct {
	mu       sync.Mutex
	events   []domain.TimelineEvent
	cleanups []time.Duration
}

func (r *fakeTimelineRepo) Create(_ context.Context, ev *domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

func (r *fakeTimelineRepo) GetByID(context.Context, uint) (*domain.TimelineEvent, error) {
	return nil, nil
}

func (r *fakeTimelineRepo) GetByTask(context.Context, string, int) ([]domain.TimelineEvent, error) {
	return nil, nil
}

func (r *fakeTimelineRepo) GetAll(context.Context, int) ([]domain.TimelineEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TimelineEvent(nil), r.events...), nil
}

func (r *fakeTimelineRepo) CleanupOld(_ context.Context, olderThan time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, olderThan)
	return nil
}

func (r *fakeTimelineRepo) cleanupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cleanups)
}

type fakeSettingRepo struct {
	mu       sync.Mutex
	settings map[string]domain.SystemSetting
}

func (r *fakeSettingRepo) Get(_ context.Context, key string) (*domain.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *fakeSettingRepo) Set(_ context.Context, s *domain.SystemSetting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		r.settings = make(map[string]domain.SystemSetting)
	}
	r.settings[s.Key] = *s
	return nil
}
