package ports

import (
	"context"

	"github.com/devault/backend/internal/domain"
)

// ProjectService owns project rows and the artifacts under the data
// directory.
type ProjectService interface {
	CreateProject(ctx context.Context, input CreateProjectInput) (*domain.Project, error)
	GetProject(ctx context.Context, name string) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.ProjectSummary, error)
	// StoreKey returns the decrypted key of the project's encrypted database.
	StoreKey(ctx context.Context, name string) (string, error)
	SetResourceSize(ctx context.Context, name string, size int64) error
	DeleteArtifact(ctx context.Context, name string, artifact Artifact) error
}

type CreateProjectInput struct {
	Name     string
	User     string
	StoreKey string
}

// Artifact names a deletable part of a project.
type Artifact string

const (
	ArtifactEncryptedDB Artifact = "encrypted_db"
	ArtifactDecryptedDB Artifact = "decrypted_db"
	ArtifactResources   Artifact = "resource"
	ArtifactProject     Artifact = "project"
)

// Publisher fans an event out to every subscriber of a channel.
type Publisher interface {
	Publish(channel, event string, payload any)
}
