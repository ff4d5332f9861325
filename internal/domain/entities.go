// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
	ErrNotImplemented    = errors.New("flavor executor not implemented")
)

// JobStatus captures the lifecycle state of a job.
type JobStatus string

// Job status values. Transitions only ever advance pending -> in_progress -> {completed,failed}.
const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// statusRank orders statuses so updates can be checked for regression.
var statusRank = map[JobStatus]int{
	JobPending:    0,
	JobInProgress: 1,
	JobCompleted:  2,
	JobFailed:     2,
}

// Advances reports whether moving from s to next is a legal, non-regressing transition.
func (s JobStatus) Advances(next JobStatus) bool {
	nr, ok := statusRank[next]
	if !ok {
		return false
	}
	cr, ok := statusRank[s]
	if !ok {
		return false
	}
	if s == next {
		return false
	}
	return nr > cr
}

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobInputs carries the staged input references and flavor-specific parameters for a Job.
type JobInputs struct {
	// PrimaryPath is the staged path of the primary uploaded file, if any.
	PrimaryPath string `json:"primary_path,omitempty"`
	// SecondaryPath is the staged path of a secondary uploaded file, if any.
	SecondaryPath string `json:"secondary_path,omitempty"`
	// Params carries flavor-specific typed parameters (e.g. tts's text/lang).
	Params map[string]any `json:"params,omitempty"`
}

// Job is the domain model for a unit of asynchronous inference work.
// Invariants: status only advances pending -> in_progress -> {completed,failed};
// Result is set only when Status=completed; Error is set only when Status=failed.
type Job struct {
	// ID is the unique identifier for the job, caller-supplied or generated.
	ID string
	// Flavor is the registry tag identifying which pipeline handles this job (e.g. "tts").
	Flavor string
	// Priority is an advisory 1..10 value; it is persisted but does not affect broker ordering.
	Priority int
	// Inputs holds staged file paths and flavor-specific parameters.
	Inputs JobInputs
	// Model is an optional model selector string passed through to the executor.
	Model string
	// Status is the current lifecycle status of the job.
	Status JobStatus
	// Result is the inline result payload, when the flavor produces one (<=4KB).
	Result string
	// ResultPath is the path of a produced artifact, when the flavor produces a file.
	ResultPath string
	// Error is a short diagnostic string, set only when Status=failed.
	Error string
	// WebhookRetryCount counts terminal webhook delivery attempts (completed/failed only).
	WebhookRetryCount int
	// WebhookStatusCode is the HTTP status observed on the last webhook attempt.
	WebhookStatusCode int
	// CreatedAt is itime: the job's creation timestamp.
	CreatedAt time.Time
	// UpdatedAt is utime: the timestamp of the job's last mutation.
	UpdatedAt time.Time
}

// JobStore is the persistence port for Jobs (C1).
type JobStore interface {
	// Create inserts a new pending job. Returns ErrConflict if id already exists.
	Create(ctx Context, j Job) error
	// UpdateStatus applies a non-regressing status transition, setting result/error fields.
	// Implementations MUST silently ignore regressions and updates to unknown ids (logging a
	// warning), returning applied=false in both cases so callers (the Result Consumer) can
	// skip re-dispatching a webhook for a transition that didn't actually happen (P5).
	UpdateStatus(ctx Context, id string, status JobStatus, result, resultPath, errMsg string) (applied bool, err error)
	// RecordWebhookAttempt records the HTTP status of a webhook attempt and,
	// for terminal statuses, increments webhook_retry_count.
	RecordWebhookAttempt(ctx Context, id string, statusCode int, countsAsRetry bool) error
	// Get retrieves a job by id.
	Get(ctx Context, id string) (Job, error)
	// ListStalePending returns pending jobs whose UpdatedAt is older than the given cutoff.
	ListStalePending(ctx Context, cutoff time.Time) ([]Job, error)
}

// TaskMessage is the broker envelope published by the Ingress API and consumed by the Worker Loop.
type TaskMessage struct {
	ID       string    `json:"id"`
	Flavor   string    `json:"flavor"`
	Inputs   JobInputs `json:"inputs"`
	Model    string    `json:"model,omitempty"`
	Priority int       `json:"priority,omitempty"`
}

// ResultMessage is the broker envelope published by the Worker Loop and consumed by the Result Consumer.
type ResultMessage struct {
	ID         string    `json:"id"`
	Status     JobStatus `json:"status"`
	ResultData string    `json:"result_data,omitempty"`
	ResultPath string    `json:"result_path,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Broker (port)

// Broker abstracts connection/channel management and durable queue publish/consume (C2).
type Broker interface {
	// DeclareQueue declares a durable queue, idempotent across reconnects.
	DeclareQueue(ctx Context, name string) error
	// Publish publishes a JSON body to the default exchange with routing key = queue name.
	Publish(ctx Context, queue string, requestID string, body []byte) error
	// Consume starts consuming a queue with prefetch=1 and manual ack, invoking handler per delivery.
	// handler returns nil to ack, or an error to nack-with-requeue.
	Consume(ctx Context, queue string, handler func(ctx Context, body []byte) error) error
	// Close tears down the connection.
	Close() error
}

// CallbackClient (port)

// CallbackClient delivers job status callbacks to the tenant platform (C3).
type CallbackClient interface {
	// SetInProgress notifies the tenant platform that a job has started.
	SetInProgress(ctx Context, id string) error
	// SetCompleted notifies the tenant platform of a completed job, attaching an
	// inline result or an artifact file depending on the flavor's descriptor.
	SetCompleted(ctx Context, id string, resultInline string, artifactPath string) error
	// SetFailed notifies the tenant platform that a job has failed.
	SetFailed(ctx Context, id string, errMsg string) error
}

// Staging (port)

// Staging spools Ingress API inputs to a date-sharded path ahead of the Job
// Store insert, and rolls them back on a rejected insert (C4, P7).
type Staging interface {
	// StageJSON marshals v and writes it under <id>_input.json.
	StageJSON(ctx Context, id string, v any) (path string, err error)
	// Remove deletes a previously staged file. Missing files are not an error.
	Remove(path string) error
}

// Executor is the opaque, flavor-specific inference function (C8). Implementations
// return either an inline result payload or the path of a produced artifact.
type Executor func(ctx Context, job Job) (resultData string, resultPath string, err error)

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context
