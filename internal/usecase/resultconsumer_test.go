package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-infra/jobpipeline/internal/domain"
	"github.com/ai-infra/jobpipeline/internal/registry"
)

func newResultConsumer(jobs domain.JobStore, cb domain.CallbackClient, artifact bool) ResultConsumer {
	r := registry.New()
	r.Register(registry.FlavorDescriptor{
		Name:             "tts",
		TaskQueue:        "tts.task_queue",
		ResultQueue:      "tts.result_queue",
		ProducesArtifact: artifact,
	})
	return ResultConsumer{Jobs: jobs, Callbacks: map[string]domain.CallbackClient{"tts": cb}, Registry: r}
}

func seedJob(t *testing.T, jobs *memStore, id string, status domain.JobStatus) {
	t.Helper()
	require.NoError(t, jobs.Create(context.Background(), domain.Job{ID: id, Flavor: "tts", Status: domain.JobPending}))
	if status != domain.JobPending {
		applied, err := jobs.UpdateStatus(context.Background(), id, status, "", "", "")
		require.NoError(t, err)
		require.True(t, applied)
	}
}

func TestHandleMessage_InProgress(t *testing.T) {
	jobs := newMemStore()
	seedJob(t, jobs, "J1", domain.JobPending)
	cb := newFakeCallback()
	c := newResultConsumer(jobs, cb, true)

	body, _ := json.Marshal(domain.ResultMessage{ID: "J1", Status: domain.JobInProgress})
	err := c.HandleMessage(context.Background(), "tts", body)
	require.NoError(t, err)

	job, _ := jobs.Get(context.Background(), "J1")
	assert.Equal(t, domain.JobInProgress, job.Status)
	assert.Equal(t, []string{"J1"}, cb.inProgress)
}

func TestHandleMessage_CompletedArtifact(t *testing.T) {
	jobs := newMemStore()
	seedJob(t, jobs, "J1", domain.JobInProgress)
	cb := newFakeCallback()
	c := newResultConsumer(jobs, cb, true)

	body, _ := json.Marshal(domain.ResultMessage{ID: "J1", Status: domain.JobCompleted, ResultPath: "/results/J1.wav"})
	require.NoError(t, c.HandleMessage(context.Background(), "tts", body))

	job, _ := jobs.Get(context.Background(), "J1")
	assert.Equal(t, domain.JobCompleted, job.Status)
	require.Len(t, cb.completed, 1)
	assert.Equal(t, "/results/J1.wav", cb.completed[0].artifact)
}

func TestHandleMessage_CompletedInline(t *testing.T) {
	jobs := newMemStore()
	seedJob(t, jobs, "J1", domain.JobInProgress)
	cb := newFakeCallback()
	c := newResultConsumer(jobs, cb, false) // inline-result flavor

	body, _ := json.Marshal(domain.ResultMessage{ID: "J1", Status: domain.JobCompleted, ResultData: `{"text":"hi"}`, ResultPath: "/results/J1.wav"})
	require.NoError(t, c.HandleMessage(context.Background(), "tts", body))

	require.Len(t, cb.completed, 1)
	assert.Equal(t, `{"text":"hi"}`, cb.completed[0].inline)
	assert.Empty(t, cb.completed[0].artifact, "inline flavors must not send an artifact path even if the result carries one")
}

// TestHandleMessage_CompletedIdempotent exercises P5: applying a completed
// result twice leaves the row unchanged after the first, and the webhook is
// not dispatched a second time.
func TestHandleMessage_CompletedIdempotent(t *testing.T) {
	jobs := newMemStore()
	seedJob(t, jobs, "J1", domain.JobInProgress)
	cb := newFakeCallback()
	c := newResultConsumer(jobs, cb, true)

	body, _ := json.Marshal(domain.ResultMessage{ID: "J1", Status: domain.JobCompleted, ResultPath: "/results/J1.wav"})
	require.NoError(t, c.HandleMessage(context.Background(), "tts", body))
	require.NoError(t, c.HandleMessage(context.Background(), "tts", body))

	assert.Len(t, cb.completed, 1, "webhook must fire exactly once across duplicate deliveries")
}

func TestHandleMessage_UnknownFlavorDropped(t *testing.T) {
	jobs := newMemStore()
	cb := newFakeCallback()
	c := newResultConsumer(jobs, cb, true)

	body, _ := json.Marshal(domain.ResultMessage{ID: "J9", Status: domain.JobCompleted})
	err := c.HandleMessage(context.Background(), "unknown-flavor", body)
	require.NoError(t, err)
	assert.Empty(t, cb.completed)
}

func TestHandleMessage_UnparseableRequeued(t *testing.T) {
	jobs := newMemStore()
	cb := newFakeCallback()
	c := newResultConsumer(jobs, cb, true)

	err := c.HandleMessage(context.Background(), "tts", []byte("not json"))
	require.Error(t, err)
}

func TestHandleMessage_RegressionDropped(t *testing.T) {
	jobs := newMemStore()
	seedJob(t, jobs, "J1", domain.JobCompleted)
	cb := newFakeCallback()
	c := newResultConsumer(jobs, cb, true)

	// A status regression (completed -> in_progress) must be dropped, and no
	// webhook fired for it.
	body, _ := json.Marshal(domain.ResultMessage{ID: "J1", Status: domain.JobInProgress})
	require.NoError(t, c.HandleMessage(context.Background(), "tts", body))

	job, _ := jobs.Get(context.Background(), "J1")
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.Empty(t, cb.inProgress)
}
