package ports

import (
	"context"
	"errors"
	"time"

	"github.com/devault/backend/internal/domain"
)

// ErrRecordNotFound is returned by updates that matched no row.
var ErrRecordNotFound = errors.New("repository: record not found")

type ProjectRepository interface {
	Create(ctx context.Context, project *domain.Project) error
	GetByName(ctx context.Context, name string) (*domain.Project, error)
	GetAll(ctx context.Context) ([]domain.Project, error)
	UpdateResourceSize(ctx context.Context, name string, size int64) error
	Delete(ctx context.Context, name string) error
}

type TimelineRepository interface {
	Create(ctx context.Context, event *domain.TimelineEvent) error
	GetByID(ctx context.Context, id uint) (*domain.TimelineEvent, error)
	GetByTask(ctx context.Context, task string, limit int) ([]domain.TimelineEvent, error)
	GetAll(ctx context.Context, limit int) ([]domain.TimelineEvent, error)
	CleanupOld(ctx context.Context, olderThan time.Duration) error
}

type SystemSettingRepository interface {
	Get(ctx context.Context, key string) (*domain.SystemSetting, error)
	Set(ctx context.Context, setting *domain.SystemSetting) error
}
