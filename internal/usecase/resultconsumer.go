package usecase

import (
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/ai-infra/jobpipeline/internal/adapter/observability"
	"github.com/ai-infra/jobpipeline/internal/domain"
	obsctx "github.com/ai-infra/jobpipeline/internal/observability"
	"github.com/ai-infra/jobpipeline/internal/registry"
)

// ResultConsumer implements the Result Consumer (C5): one cooperative
// subscriber per flavor's result_queue inside the dispatcher process. It
// reconciles Job Store state and dispatches tenant webhooks per spec.md §4.4.
type ResultConsumer struct {
	Jobs      domain.JobStore
	Callbacks map[string]domain.CallbackClient // keyed by flavor
	Registry  *registry.Registry
}

// HandleMessage processes one delivery from a flavor's result_queue. It
// always returns nil (ack unconditionally after the Job Store write, per
// spec.md §4.4 point 4) except when the message itself cannot be parsed, in
// which case the delivery is nacked-with-requeue since no job id could even
// be identified to act on.
func (c ResultConsumer) HandleMessage(ctx domain.Context, flavor string, body []byte) error {
	tr := otel.Tracer("usecase.resultconsumer")
	ctx, span := tr.Start(ctx, "ResultConsumer.HandleMessage")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)

	var msg domain.ResultMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		lg.Error("result message unparseable, requeueing", slog.Any("error", err))
		return err
	}

	desc, err := c.Registry.Get(flavor)
	if err != nil {
		lg.Error("result message for unknown flavor dropped", slog.String("flavor", flavor), slog.String("job_id", msg.ID))
		return nil
	}

	applied, err := c.Jobs.UpdateStatus(ctx, msg.ID, msg.Status, msg.ResultData, msg.ResultPath, msg.Error)
	if err != nil {
		lg.Error("result consumer update failed", slog.String("job_id", msg.ID), slog.Any("error", err))
		return nil
	}
	if !applied {
		// Duplicate delivery of an already-applied transition (P5) or an
		// unknown id; the webhook for this transition has already fired (or
		// never should), so don't invoke it again.
		return nil
	}

	switch msg.Status {
	case domain.JobInProgress:
		observability.StartProcessingJob(flavor)
		c.dispatchWebhook(ctx, flavor, desc, msg)
	case domain.JobCompleted:
		observability.CompleteJob(flavor)
		c.dispatchWebhook(ctx, flavor, desc, msg)
	case domain.JobFailed:
		observability.FailJob(flavor)
		c.dispatchWebhook(ctx, flavor, desc, msg)
	default:
		lg.Warn("result message with unrecognized status dropped", slog.String("job_id", msg.ID), slog.String("status", string(msg.Status)))
	}

	return nil
}

// dispatchWebhook invokes the Callback Client according to the status
// transition. Webhook failures are recorded by the client itself and never
// cause the message to be requeued (that would re-run the executor for no
// benefit, per spec.md §4.4 point 4).
func (c ResultConsumer) dispatchWebhook(ctx domain.Context, flavor string, desc registry.FlavorDescriptor, msg domain.ResultMessage) {
	cb, ok := c.Callbacks[flavor]
	if !ok {
		return
	}
	switch msg.Status {
	case domain.JobInProgress:
		_ = cb.SetInProgress(ctx, msg.ID)
	case domain.JobCompleted:
		artifact := ""
		if desc.ProducesArtifact {
			artifact = msg.ResultPath
		}
		_ = cb.SetCompleted(ctx, msg.ID, msg.ResultData, artifact)
	case domain.JobFailed:
		_ = cb.SetFailed(ctx, msg.ID, msg.Error)
	}
}
