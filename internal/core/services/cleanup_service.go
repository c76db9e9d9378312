package services

import (
	"context"
	"time"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/infrastructure/logger"
)

const defaultCleanupInterval = time.Hour

// CleanupService prunes task events older than the retention window.
type CleanupService struct {
	timelineRepo ports.TimelineRepository
	retention    time.Duration
	interval     time.Duration
	logger       *logger.Logger
}

type CleanupServiceConfig struct {
	TimelineRepo ports.TimelineRepository
	Retention    time.Duration
	Interval     time.Duration
	Logger       *logger.Logger
}

func NewCleanupService(cfg CleanupServiceConfig) *CleanupService {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultCleanupInterval
	}
	return &CleanupService{
		timelineRepo: cfg.TimelineRepo,
		retention:    cfg.Retention,
		interval:     cfg.Interval,
		logger:       cfg.Logger,
	}
}

// Run prunes once on start and then every interval until ctx is done.
// A zero retention keeps everything.
func (s *CleanupService) Run(ctx context.Context) {
	if s.retention <= 0 {
		s.logger.Infow("timeline_cleanup_disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *CleanupService) Prune(ctx context.Context) {
	if err := s.timelineRepo.CleanupOld(ctx, s.retention); err != nil {
		if ctx.Err() == nil {
			s.logger.Warnw("timeline_cleanup_failed", "retention", s.retention, "error", err)
		}
		return
	}
	s.logger.Debugw("timeline_cleanup_ok", "retention", s.retention)
}
