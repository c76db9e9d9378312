package db

import (
    "context"
    "errors"

    "github.com/devault/backend/internal/core/ports"
    "github.com/devault/backend/internal/domain"
    "github.com/devault/backend/internal/infrastructure/logger"
    "gorm.io/gorm"
    "gorm.io/gorm/clause"
)

type systemSettingRepository struct {
    db  *gorm.DB
    log *logger.Logger
}

func NewSystemSettingRepository(db *gorm.DB, log *logger.Logger) ports.SystemSettingRepository {
    return &systemSettingRepository{db: db, log: log}
}

// Get returns nil, nil for an unknown key.
func (r *systemSettingRepository) Get(ctx context.Context, key string) (*domain.SystemSetting, error) {
    var setting domain.SystemSetting
    if err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
        if errors.Is(err, gorm.ErrRecordNotFound) {
            return nil, nil
        }
        r.log.Errorw("setting_repo_get_failed", "key", key, "error", err)
        return nil, err
    }
    return &setting, nil
}

// Set inserts the setting or overwrites the value stored under its key.
func (r *systemSettingRepository) Set(ctx context.Context, setting *domain.SystemSetting) error {
    err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
        Columns:   []clause.Column{{Name: "key"}},
        DoUpdates: clause.AssignmentColumns([]string{"value", "type", "category", "updated_at"}),
    }).Create(setting).Error
    if err != nil {
        r.log.Errorw("setting_repo_set_failed", "key", setting.Key, "error", err)
        return err
    }
    r.log.Infow("setting_repo_set_ok", "key", setting.Key, "category", setting.Category)
    return nil
}
