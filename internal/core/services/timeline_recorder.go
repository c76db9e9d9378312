package services

import (
	"context"
	"time"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/core/tasks"
	"github.com/devault/backend/internal/domain"
	"github.com/devault/backend/internal/infrastructure/logger"
)

const (
	defaultRecorderBuffer = 256
	recorderWriteTimeout  = 5 * time.Second
)

// TimelineRecorder turns daemon lifecycle events into timeline rows. The
// daemon hands events over without blocking; a full buffer drops them.
type TimelineRecorder struct {
	repo   ports.TimelineRepository
	logger *logger.Logger
	events chan tasks.TaskEvent
	done   chan struct{}
}

func NewTimelineRecorder(repo ports.TimelineRepository, logger *logger.Logger, buffer int) *TimelineRecorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	return &TimelineRecorder{
		repo:   repo,
		logger: logger,
		events: make(chan tasks.TaskEvent, buffer),
		done:   make(chan struct{}),
	}
}

var _ tasks.EventRecorder = (*TimelineRecorder)(nil)

func (r *TimelineRecorder) RecordTaskEvent(ev tasks.TaskEvent) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warnw("timeline_event_dropped", "task", ev.Task, "type", ev.Type)
	}
}

// Run writes events until ctx is done, then flushes what is buffered.
func (r *TimelineRecorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case ev := <-r.events:
			r.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.events:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has flushed and returned.
func (r *TimelineRecorder) Wait() { <-r.done }

func (r *TimelineRecorder) write(ev tasks.TaskEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	event := &domain.TimelineEvent{
		CreatedAt: ev.At,
		Type:      string(ev.Type),
		Status:    domain.StatusForEventType(string(ev.Type)),
		Message:   timelineMessage(ev),
		Task:      ev.Task,
		Category:  ev.Category,
	}
	if ev.Detail != "" {
		event.Meta = domain.JSONB{"detail": ev.Detail}
	}
	if err := r.repo.Create(ctx, event); err != nil {
		r.logger.Errorw("timeline_event_write_failed", "task", ev.Task, "type", ev.Type, "error", err)
	}
}

func timelineMessage(ev tasks.TaskEvent) string {
	switch ev.Type {
	case tasks.EventTaskAdded:
		return "Task " + ev.Task + " added"
	case tasks.EventTaskStopped:
		return "Task " + ev.Task + " stopped"
	case tasks.EventTaskTombstoned:
		return "Task " + ev.Task + " removed"
	case tasks.EventTaskKilled:
		return "Task " + ev.Task + " killed"
	case tasks.EventTaskFault:
		return "Task " + ev.Task + " failed: " + ev.Detail
	default:
		return string(ev.Type)
	}
}
