package usecase

import (
	"errors"
	"sync"
	"time"

	"github.com/ai-infra/jobpipeline/internal/domain"
)

// memStore is an in-memory domain.JobStore double, standing in for
// Postgres in these fast unit tests — mirroring the teacher's own
// preference for hand-rolled fakes over heavier test doubles in
// non-integration suites.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newMemStore() *memStore { return &memStore{jobs: make(map[string]domain.Job)} }

func (s *memStore) Create(_ domain.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return domain.ErrConflict
	}
	s.jobs[j.ID] = j
	return nil
}

func (s *memStore) UpdateStatus(_ domain.Context, id string, status domain.JobStatus, result, resultPath, errMsg string) (bool, error) {
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
	j.Result = result
	j.ResultPath = resultPath
	j.Error = errMsg
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return true, nil
}

func (s *memStore) RecordWebhookAttempt(_ domain.Context, id string, statusCode int, countsAsRetry bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.WebhookStatusCode = statusCode
	if countsAsRetry {
		j.WebhookRetryCount++
	}
	s.jobs[id] = j
	return nil
}

func (s *memStore) Get(_ domain.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (s *memStore) ListStalePending(_ domain.Context, cutoff time.Time) ([]domain.Job, error) {
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

// memBroker is an in-process domain.Broker double: Publish records bodies
// per queue instead of talking to a real AMQP broker.
type memBroker struct {
	mu        sync.Mutex
	published map[string][][]byte
	failQueue string
}

func newMemBroker() *memBroker {
	return &memBroker{published: make(map[string][][]byte)}
}

func (b *memBroker) DeclareQueue(_ domain.Context, _ string) error { return nil }

func (b *memBroker) Publish(_ domain.Context, queue string, _ string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failQueue != "" && queue == b.failQueue {
		return errors.New("broker unavailable")
	}
	b.published[queue] = append(b.published[queue], body)
	return nil
}

func (b *memBroker) Consume(_ domain.Context, _ string, _ func(ctx domain.Context, body []byte) error) error {
	return nil
}

func (b *memBroker) Close() error { return nil }

func (b *memBroker) messages(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[queue]...)
}

// memStaging is an in-process domain.Staging double.
type memStaging struct {
	mu      sync.Mutex
	staged  map[string]string
	removed []string
	failOn  string
}

func newMemStaging() *memStaging { return &memStaging{staged: make(map[string]string)} }

func (s *memStaging) StageJSON(_ domain.Context, id string, _ any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == id {
		return "", errors.New("stage write failed")
	}
	path := "/staging/" + id + "_input.json"
	s.staged[id] = path
	return path, nil
}

func (s *memStaging) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, path)
	return nil
}

// fakeCallback is an in-process domain.CallbackClient double recording
// which verb was invoked for which job, so tests can assert dispatch
// without an HTTP round trip.
type fakeCallback struct {
	mu         sync.Mutex
	inProgress []string
	completed  []completedCall
	failed     []string
}

type completedCall struct {
	id, inline, artifact string
}

func newFakeCallback() *fakeCallback { return &fakeCallback{} }

func (f *fakeCallback) SetInProgress(_ domain.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inProgress = append(f.inProgress, id)
	return nil
}

func (f *fakeCallback) SetCompleted(_ domain.Context, id, resultInline, artifactPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, completedCall{id, resultInline, artifactPath})
	return nil
}

func (f *fakeCallback) SetFailed(_ domain.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}
