// Package worker implements the Worker Loop (C6): a single logical AMQP
// consumer per process that invokes an injected Executor off the broker's
// I/O path and publishes progress/terminal results, grounded on
// original_source/TTS/.../engine/core/queue_utils.py's process_message
// (publish in_progress, run the generator, publish completed/failed) and the
// teacher's worker signal-handling pattern in cmd/server/main.go.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/ai-infra/jobpipeline/internal/domain"
	"github.com/ai-infra/jobpipeline/internal/registry"
)

// maxErrorLen bounds the short diagnostic string persisted on failure,
// mirroring original_source's str(e) "top frame" diagnostic.
const maxErrorLen = 500

// Loop drains one flavor's task_queue, running its Executor off the broker's
// consume goroutine via a size-1 handoff channel so a slow/CPU-bound
// Executor never stalls the AMQP heartbeat/ack path (spec.md §9's explicit
// re-architecture point).
type Loop struct {
	Broker domain.Broker
	Desc   registry.FlavorDescriptor
}

// task is handed off from the broker consume goroutine to the executor
// goroutine; result carries the outcome back.
type task struct {
	msg    domain.TaskMessage
	result chan domain.ResultMessage
}

// Run starts consuming Desc.TaskQueue until ctx is cancelled. Each delivery
// is parsed, handed to a dedicated goroutine that runs the Executor, and the
// in_progress/terminal result messages are published to Desc.ResultQueue.
// Run blocks; callers typically invoke it in its own goroutine per flavor.
func (l Loop) Run(ctx domain.Context) error {
	handoff := make(chan task, 1) // size 1: the consumer then waits for the task's result, so at most one delivery is in flight (prefetch=1)
	done := make(chan struct{})
	go l.executorWorker(ctx, handoff, done)
	defer func() {
		close(handoff)
		<-done
	}()

	return l.Broker.Consume(ctx, l.Desc.TaskQueue, func(ctx domain.Context, body []byte) error {
		var msg domain.TaskMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			slog.Error("worker: unparseable task message dropped", slog.Any("error", err))
			return nil // ack; redelivering a malformed message forever helps no one
		}

		resultCh := make(chan domain.ResultMessage, 1)
		select {
		case handoff <- task{msg: msg, result: resultCh}:
		case <-ctx.Done():
			return ctx.Err()
		}

		// Deliberately not selecting on ctx.Done() here: once a task has been
		// handed off, the executor is running and the broker delivery is
		// already unacked. On shutdown we let this one message finish (best
		// effort, spec.md §4.5) rather than abandon it mid-flight.
		result := <-resultCh
		return l.publishResult(ctx, result)
	})
}

// executorWorker is the single goroutine that actually invokes Executor,
// kept off the broker consume loop so broker heartbeats continue during a
// long-running inference call.
func (l Loop) executorWorker(ctx domain.Context, handoff <-chan task, done chan<- struct{}) {
	defer close(done)
	for t := range handoff {
		l.runOne(ctx, t)
	}
}

func (l Loop) runOne(ctx domain.Context, t task) {
	job := domain.Job{
		ID:     t.msg.ID,
		Flavor: t.msg.Flavor,
		Inputs: t.msg.Inputs,
		Model:  t.msg.Model,
	}

	// Publish in_progress first; the broker preserves per-channel order so it
	// is guaranteed to precede the terminal publish (spec.md §5).
	if err := l.publishResult(ctx, domain.ResultMessage{ID: job.ID, Status: domain.JobInProgress}); err != nil {
		slog.Error("worker: publish in_progress failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}

	resultData, resultPath, err := l.Desc.Executor(ctx, job)
	if err != nil {
		if resultPath != "" {
			if rmErr := os.Remove(resultPath); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("worker: failed to remove partial artifact", slog.String("job_id", job.ID), slog.Any("error", rmErr))
			}
		}
		t.result <- domain.ResultMessage{ID: job.ID, Status: domain.JobFailed, Error: shortError(err)}
		return
	}

	t.result <- domain.ResultMessage{ID: job.ID, Status: domain.JobCompleted, ResultData: resultData, ResultPath: resultPath}
}

func (l Loop) publishResult(ctx domain.Context, msg domain.ResultMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("op=worker.marshal_result: %w", err)
	}
	return l.Broker.Publish(ctx, l.Desc.ResultQueue, msg.ID, body)
}

// shortError stringifies an Executor error into a bounded diagnostic,
// standing in for the "top frame" of an exception the source captures.
func shortError(err error) string {
	s := err.Error()
	if len(s) > maxErrorLen {
		s = s[:maxErrorLen]
	}
	return s
}
