package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/core/tasks"
	"github.com/devault/backend/internal/domain"
	"github.com/devault/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProjectService(repo *fakeProjectRepo, files *fakeFiles, key string) *ProjectService {
	return NewProjectService(ProjectServiceConfig{
		Repo:          repo,
		Files:         files,
		Layout:        tasks.DefaultLayout(),
		EncryptionKey: key,
		Logger:        logger.NewNop(),
	})
}

func TestProjectService_CreateSealsKey(t *testing.T) {
	repo := newFakeProjectRepo()
	files := newFakeFiles()
	svc := newProjectService(repo, files, "secret")
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, ports.CreateProjectInput{Name: "proj", User: "u1", StoreKey: "abc1234"})
	require.NoError(t, err)
	assert.Equal(t, "proj", p.Name)
	assert.NotEqual(t, "abc1234", p.EncryptedKey)
	assert.True(t, files.Exists("data/proj"))

	key, err := svc.StoreKey(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, "abc1234", key)

	_, err = svc.CreateProject(ctx, ports.CreateProjectInput{Name: "proj", User: "u1", StoreKey: "x"})
	assert.ErrorIs(t, err, ErrProjectAlreadyExists)
}

func TestProjectService_CreateRejectsBadInput(t *testing.T) {
	svc := newProjectService(newFakeProjectRepo(), newFakeFiles(), "")
	ctx := context.Background()

	for _, in := range []ports.CreateProjectInput{
		{Name: "../etc", User: "u1", StoreKey: "k"},
		{Name: "proj", StoreKey: "k"},
		{Name: "proj", User: "u1"},
	} {
		_, err := svc.CreateProject(ctx, in)
		assert.ErrorIs(t, err, ErrProjectInvalidInput, in.Name)
	}
}

func TestProjectService_ListReportsArtifacts(t *testing.T) {
	repo := newFakeProjectRepo()
	files := newFakeFiles()
	svc := newProjectService(repo, files, "")
	ctx := context.Background()

	_, err := svc.CreateProject(ctx, ports.CreateProjectInput{Name: "proj", User: "u1", StoreKey: "k"})
	require.NoError(t, err)
	files.Set("data/proj/EnMicroMsg.db", 4096)
	files.Set("data/proj/Resource", 0)
	require.NoError(t, svc.SetResourceSize(ctx, "proj", 1<<20))

	list, err := svc.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0].User)
	assert.Equal(t, []domain.ProjectFile{
		{Name: "data/proj/EnMicroMsg.db", Size: 4096},
		{Name: "data/proj/Resource", Size: 1 << 20},
	}, list[0].Files)
}

func TestProjectService_DeleteArtifact(t *testing.T) {
	repo := newFakeProjectRepo()
	files := newFakeFiles()
	svc := newProjectService(repo, files, "")
	ctx := context.Background()

	_, err := svc.CreateProject(ctx, ports.CreateProjectInput{Name: "proj", User: "u1", StoreKey: "k"})
	require.NoError(t, err)
	files.Set("data/proj/Resource/avatar/a.png", 10)
	require.NoError(t, svc.SetResourceSize(ctx, "proj", 10))

	require.NoError(t, svc.DeleteArtifact(ctx, "proj", ports.ArtifactResources))
	assert.False(t, files.Exists("data/proj/Resource/avatar/a.png"))
	p, err := svc.GetProject(ctx, "proj")
	require.NoError(t, err)
	assert.Zero(t, p.ResourceSize)

	assert.ErrorIs(t, svc.DeleteArtifact(ctx, "proj", "logs"), ErrUnknownArtifact)

	require.NoError(t, svc.DeleteArtifact(ctx, "proj", ports.ArtifactProject))
	assert.Contains(t, files.removed, "data/proj")
	_, err = svc.GetProject(ctx, "proj")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestProjectService_SetResourceSizeUnknownProject(t *testing.T) {
	svc := newProjectService(newFakeProjectRepo(), newFakeFiles(), "")
	assert.ErrorIs(t, svc.SetResourceSize(context.Background(), "ghost", 1), ErrProjectNotFound)
}

func TestProjectService_ConcurrentCreateSameName(t *testing.T) {
	repo := newFakeProjectRepo()
	svc := newProjectService(repo, newFakeFiles(), "")
	ctx := context.Background()

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateProject(ctx, ports.CreateProjectInput{Name: "proj", User: "u1", StoreKey: "k"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrProjectAlreadyExists):
			conflicts++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflicts)
}

func TestKeyLocks(t *testing.T) {
	var l keyLocks
	unlock := l.lock("b", "a", "a")
	done := make(chan struct{})
	go func() {
		release := l.lock("a")
		release()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("lock on a was not held")
	default:
	}
	unlock()
	<-done
	l.lock()()
}
