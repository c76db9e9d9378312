package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/core/tasks"
	"github.com/devault/backend/internal/domain"
	"github.com/devault/backend/internal/infrastructure/logger"
	"github.com/devault/backend/pkg/utils/crypto"
)

type ProjectService struct {
	repo          ports.ProjectRepository
	files         ports.FileObserver
	layout        tasks.Layout
	encryptionKey string
	logger        *logger.Logger
	locks         keyLocks
}

type ProjectServiceConfig struct {
	Repo          ports.ProjectRepository
	Files         ports.FileObserver
	Layout        tasks.Layout
	EncryptionKey string
	Logger        *logger.Logger
}

func NewProjectService(cfg ProjectServiceConfig) *ProjectService {
	return &ProjectService{
		repo:          cfg.Repo,
		files:         cfg.Files,
		layout:        cfg.Layout,
		encryptionKey: cfg.EncryptionKey,
		logger:        cfg.Logger,
	}
}

var _ ports.ProjectService = (*ProjectService)(nil)

func (s *ProjectService) CreateProject(ctx context.Context, input ports.CreateProjectInput) (*domain.Project, error) {
	dir, err := s.layout.ProjectDir(input.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProjectInvalidInput, err)
	}
	if strings.TrimSpace(input.User) == "" || input.StoreKey == "" {
		return nil, fmt.Errorf("%w: user and key are required", ErrProjectInvalidInput)
	}

	unlock := s.locks.lock("project:" + input.Name)
	defer unlock()

	existing, err := s.repo.GetByName(ctx, input.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrProjectAlreadyExists
	}

	sealed, err := s.seal(input.StoreKey)
	if err != nil {
		return nil, err
	}

	if err := s.files.MakeDirs(dir); err != nil {
		s.logger.Errorw("project_dir_create_failed", "name", input.Name, "dir", dir, "error", err)
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}

	project := &domain.Project{
		Name:         input.Name,
		User:         input.User,
		EncryptedKey: sealed,
	}
	if err := s.repo.Create(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Infow("project_created", "name", project.Name, "user", project.User)
	return project, nil
}

func (s *ProjectService) GetProject(ctx context.Context, name string) (*domain.Project, error) {
	project, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, ErrProjectNotFound
	}
	return project, nil
}

// ListProjects reports every project with the artifacts present on disk.
// The resource directory is listed with its stored size.
func (s *ProjectService) ListProjects(ctx context.Context) ([]domain.ProjectSummary, error) {
	projects, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProjectSummary, 0, len(projects))
	for _, p := range projects {
		summary := domain.ProjectSummary{
			Name:         p.Name,
			User:         p.User,
			ResourceSize: p.ResourceSize,
			Files:        []domain.ProjectFile{},
		}
		dir, err := s.layout.ProjectDir(p.Name)
		if err != nil {
			s.logger.Warnw("project_name_invalid", "name", p.Name, "error", err)
			continue
		}
		for _, file := range []string{s.layout.EncryptedFile(), s.layout.DecryptedFile()} {
			path := filepath.Join(dir, file)
			if s.files.Exists(path) {
				summary.Files = append(summary.Files, domain.ProjectFile{Name: path, Size: s.files.StatSize(path)})
			}
		}
		if res := filepath.Join(dir, tasks.ResourceDirName); s.files.Exists(res) {
			summary.Files = append(summary.Files, domain.ProjectFile{Name: res, Size: p.ResourceSize})
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *ProjectService) StoreKey(ctx context.Context, name string) (string, error) {
	project, err := s.GetProject(ctx, name)
	if err != nil {
		return "", err
	}
	return s.open(project.EncryptedKey)
}

func (s *ProjectService) SetResourceSize(ctx context.Context, name string, size int64) error {
	if err := s.repo.UpdateResourceSize(ctx, name, size); err != nil {
		if errors.Is(err, ports.ErrRecordNotFound) {
			return ErrProjectNotFound
		}
		return err
	}
	return nil
}

// DeleteArtifact removes one artifact of a project. Removing the resource
// directory resets the stored resource size; removing the project drops
// its row as well.
func (s *ProjectService) DeleteArtifact(ctx context.Context, name string, artifact ports.Artifact) error {
	dir, err := s.layout.ProjectDir(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProjectInvalidInput, err)
	}

	unlock := s.locks.lock("project:" + name)
	defer unlock()

	var target string
	switch artifact {
	case ports.ArtifactEncryptedDB:
		target = filepath.Join(dir, s.layout.EncryptedFile())
	case ports.ArtifactDecryptedDB:
		target = filepath.Join(dir, s.layout.DecryptedFile())
	case ports.ArtifactResources:
		target = filepath.Join(dir, tasks.ResourceDirName)
	case ports.ArtifactProject:
		target = dir
	default:
		return fmt.Errorf("%w: %q", ErrUnknownArtifact, artifact)
	}

	if err := s.files.RemoveRecursive(target); err != nil {
		s.logger.Errorw("project_artifact_delete_failed", "name", name, "artifact", artifact, "path", target, "error", err)
		return err
	}
	s.logger.Infow("project_artifact_deleted", "name", name, "artifact", artifact, "path", target)

	switch artifact {
	case ports.ArtifactResources:
		if err := s.SetResourceSize(ctx, name, 0); err != nil && !errors.Is(err, ErrProjectNotFound) {
			return err
		}
	case ports.ArtifactProject:
		return s.repo.Delete(ctx, name)
	}
	return nil
}

func (s *ProjectService) seal(plain string) (string, error) {
	if s.encryptionKey == "" {
		return plain, nil
	}
	sealed, err := crypto.Encrypt(plain, s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return sealed, nil
}

func (s *ProjectService) open(stored string) (string, error) {
	if s.encryptionKey == "" {
		return stored, nil
	}
	plain, err := crypto.Decrypt(stored, s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plain, nil
}
