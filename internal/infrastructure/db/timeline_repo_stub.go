package db

import (
	"context"
	"sync"
	"time"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/domain"
	"github.com/devault/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

// TimelineRepoStub keeps the most recent events in memory and logs every
// one. It backs the timeline when persistence is switched off.
type TimelineRepoStub struct {
	logger *logger.Logger
	mu     sync.Mutex
	events []domain.TimelineEvent
	nextID uint
	limit  int
}

func NewTimelineRepoStub(log *logger.Logger, limit int) ports.TimelineRepository {
	if limit <= 0 {
		limit = 500
	}
	return &TimelineRepoStub{logger: log, limit: limit}
}

func (r *TimelineRepoStub) Create(ctx context.Context, event *domain.TimelineEvent) error {
	r.logger.Infow("timeline event",
		"type", event.Type,
		"status", event.Status,
		"message", event.Message,
		"task", event.Task,
		"category", event.Category,
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	event.ID = r.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.UpdatedAt = event.CreatedAt
	r.events = append(r.events, *event)
	if over := len(r.events) - r.limit; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
	return nil
}

func (r *TimelineRepoStub) GetByID(ctx context.Context, id uint) (*domain.TimelineEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			ev := r.events[i]
			return &ev, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *TimelineRepoStub) GetByTask(ctx context.Context, task string, limit int) ([]domain.TimelineEvent, error) {
	return r.newest(limit, func(ev *domain.TimelineEvent) bool { return ev.Task == task }), nil
}

func (r *TimelineRepoStub) GetAll(ctx context.Context, limit int) ([]domain.TimelineEvent, error) {
	return r.newest(limit, func(*domain.TimelineEvent) bool { return true }), nil
}

func (r *TimelineRepoStub) CleanupOld(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	for _, ev := range r.events {
		if !ev.CreatedAt.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	r.events = kept
	return nil
}

// newest returns matching events, most recent first.
func (r *TimelineRepoStub) newest(limit int, match func(*domain.TimelineEvent) bool) []domain.TimelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TimelineEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if match(&r.events[i]) {
			out = append(out, r.events[i])
		}
	}
	return out
}
