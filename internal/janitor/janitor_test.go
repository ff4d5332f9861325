package janitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-infra/jobpipeline/internal/domain"
)

// fakeStore is a minimal domain.JobStore double local to this package, since
// the usecase package's memStore is unexported and lives elsewhere.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newFakeStore() *fakeStore { return &fakeStore{jobs: make(map[string]domain.Job)} }

func (s *fakeStore) Create(_ domain.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *fakeStore) UpdateStatus(_ domain.Context, id string, status domain.JobStatus, result, resultPath, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if !j.Status.Advances(status) {
		return false, nil
	}
	j.Status = status
	j.Error = errMsg
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return true, nil
}

func (s *fakeStore) RecordWebhookAttempt(_ domain.Context, _ string, _ int, _ bool) error { return nil }

func (s *fakeStore) Get(_ domain.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (s *fakeStore) ListStalePending(_ domain.Context, cutoff time.Time) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.JobPending && j.UpdatedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

func writeFile(t *testing.T, root, name string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	return path
}

func TestSweepStaging_RemovesExpiredTerminalAndOrphans(t *testing.T) {
	root := t.TempDir()
	jobs := newFakeStore()

	// Terminal job past retention: its staged file must be removed.
	require.NoError(t, jobs.Create(context.Background(), domain.Job{ID: "EXPIRED", Status: domain.JobPending}))
	_, err := jobs.UpdateStatus(context.Background(), "EXPIRED", domain.JobCompleted, "", "", "")
	require.NoError(t, err)
	expiredJob, _ := jobs.Get(context.Background(), "EXPIRED")
	expiredJob.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	jobs.mu.Lock()
	jobs.jobs["EXPIRED"] = expiredJob
	jobs.mu.Unlock()
	expiredPath := writeFile(t, root, "EXPIRED_input.json")

	// Terminal job within retention: kept.
	require.NoError(t, jobs.Create(context.Background(), domain.Job{ID: "FRESH", Status: domain.JobPending}))
	_, err = jobs.UpdateStatus(context.Background(), "FRESH", domain.JobCompleted, "", "", "")
	require.NoError(t, err)
	freshPath := writeFile(t, root, "FRESH_input.json")

	// Pending job: kept regardless of age.
	require.NoError(t, jobs.Create(context.Background(), domain.Job{ID: "PENDING", Status: domain.JobPending}))
	pendingPath := writeFile(t, root, "PENDING_input.json")

	// Orphan file with no Job row: removed unconditionally.
	orphanPath := writeFile(t, root, "GHOST_input.json")

	sw := New(jobs, root, 24*time.Hour, time.Hour)
	removed, kept, err := sw.sweepStaging(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, kept)

	assert.NoFileExists(t, expiredPath)
	assert.NoFileExists(t, orphanPath)
	assert.FileExists(t, freshPath)
	assert.FileExists(t, pendingPath)
}

func TestSweepStaging_EmptyRootIsNotAnError(t *testing.T) {
	sw := New(newFakeStore(), filepath.Join(t.TempDir(), "does-not-exist"), time.Hour, time.Hour)
	removed, kept, err := sw.sweepStaging(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Zero(t, kept)
}

func TestSweepStalePending_FailsAbandonedJobs(t *testing.T) {
	jobs := newFakeStore()
	require.NoError(t, jobs.Create(context.Background(), domain.Job{ID: "OLD", Status: domain.JobPending}))
	old, _ := jobs.Get(context.Background(), "OLD")
	old.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	jobs.mu.Lock()
	jobs.jobs["OLD"] = old
	jobs.mu.Unlock()

	require.NoError(t, jobs.Create(context.Background(), domain.Job{ID: "RECENT", Status: domain.JobPending, UpdatedAt: time.Now().UTC()}))

	sw := New(jobs, t.TempDir(), time.Hour, time.Hour)
	require.NoError(t, sw.sweepStalePending(context.Background()))

	oldJob, _ := jobs.Get(context.Background(), "OLD")
	assert.Equal(t, domain.JobFailed, oldJob.Status)

	recentJob, _ := jobs.Get(context.Background(), "RECENT")
	assert.Equal(t, domain.JobPending, recentJob.Status)
}

func TestIdFromStagingFilename(t *testing.T) {
	assert.Equal(t, "ABC123", idFromStagingFilename("ABC123_input.json"))
	assert.Equal(t, "", idFromStagingFilename("noseparator.json"))
	assert.Equal(t, "", idFromStagingFilename("_leadingunderscore.json"))
}
