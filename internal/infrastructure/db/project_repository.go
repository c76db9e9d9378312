package db

import (
    "context"
    "errors"

    "github.com/devault/backend/internal/core/ports"
    "github.com/devault/backend/internal/domain"
    "github.com/devault/backend/internal/infrastructure/logger"
    "gorm.io/gorm"
)

type projectRepository struct {
    db  *gorm.DB
    log *logger.Logger
}

func NewProjectRepository(db *gorm.DB, log *logger.Logger) ports.ProjectRepository {
    return &projectRepository{db: db, log: log}
}

func (r *projectRepository) Create(ctx context.Context, project *domain.Project) error {
    if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
        r.log.Errorw("project_repo_create_failed", "name", project.Name, "error", err)
        return err
    }
    r.log.Infow("project_repo_create_ok", "id", project.ID, "name", project.Name)
    return nil
}

// GetByName returns nil, nil when no project has that name.
func (r *projectRepository) GetByName(ctx context.Context, name string) (*domain.Project, error) {
    var project domain.Project
    if err := r.db.WithContext(ctx).Where("name = ?", name).First(&project).Error; err != nil {
        if errors.Is(err, gorm.ErrRecordNotFound) {
            return nil, nil
        }
        r.log.Errorw("project_repo_get_failed", "name", name, "error", err)
        return nil, err
    }
    return &project, nil
}

func (r *projectRepository) GetAll(ctx context.Context) ([]domain.Project, error) {
    var projects []domain.Project
    if err := r.db.WithContext(ctx).Order("name asc").Find(&projects).Error; err != nil {
        r.log.Errorw("project_repo_list_failed", "error", err)
        return nil, err
    }
    r.log.Infow("project_repo_list_ok", "count", len(projects))
    return projects, nil
}

func (r *projectRepository) UpdateResourceSize(ctx context.Context, name string, size int64) error {
    res := r.db.WithContext(ctx).
        Model(&domain.Project{}).
        Where("name = ?", name).
        Update("resource_size", size)
    if res.Error != nil {
        r.log.Errorw("project_repo_update_size_failed", "name", name, "error", res.Error)
        return res.Error
    }
    if res.RowsAffected == 0 {
        return ports.ErrRecordNotFound
    }
    r.log.Debugw("project_repo_update_size_ok", "name", name, "size", size)
    return nil
}

// Delete removes the row for good so the name can be reused.
func (r *projectRepository) Delete(ctx context.Context, name string) error {
    if err := r.db.WithContext(ctx).Unscoped().Where("name = ?", name).Delete(&domain.Project{}).Error; err != nil {
        r.log.Errorw("project_repo_delete_failed", "name", name, "error", err)
        return err
    }
    r.log.Infow("project_repo_delete_ok", "name", name)
    return nil
}
