// Package usecase contains application business logic: orchestrating the Job
// Store, Broker, and Job Flavor Registry ports behind the two operations the
// Ingress API exposes, Submit and Status.
package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/ai-infra/jobpipeline/internal/domain"
	obsctx "github.com/ai-infra/jobpipeline/internal/observability"
	"github.com/ai-infra/jobpipeline/internal/registry"
)

// SubmitService validates an ingress request against the flavor registry,
// persists the job, and hands the task off to the broker.
type SubmitService struct {
	Jobs     domain.JobStore
	Broker   domain.Broker
	Registry *registry.Registry
	Staging  domain.Staging
}

// SubmitRequest is the flavor-agnostic shape of a POST /api/v1/{flavor} body.
type SubmitRequest struct {
	ID       string
	Flavor   string
	Priority int
	Model    string
	Params   map[string]any
}

// Submit validates the request against its flavor's schema, creates the job
// row, and publishes the task with a request_id header equal to the job id.
// If publish fails after the row is created, the staged input is removed and
// the row is left pending with no task in flight; the Janitor's stale-pending
// sweep is responsible for eventually reaping it.
func (s SubmitService) Submit(ctx domain.Context, req SubmitRequest) (string, error) {
	tr := otel.Tracer("usecase.submit")
	ctx, span := tr.Start(ctx, "SubmitService.Submit")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)

	desc, err := s.Registry.Get(req.Flavor)
	if err != nil {
		return "", err
	}
	if err := validateParams(desc, req.Params); err != nil {
		return "", err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:     id,
		Flavor: req.Flavor,
		Priority: req.Priority,
		Inputs: domain.JobInputs{
			Params: req.Params,
		},
		Model:     req.Model,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var stagedPath string
	if s.Staging != nil {
		p, err := s.Staging.StageJSON(ctx, id, req.Params)
		if err != nil {
			lg.Error("submit stage input failed", slog.String("job_id", id), slog.Any("error", err))
			return "", fmt.Errorf("%w: stage input", domain.ErrInternal)
		}
		stagedPath = p
	}

	if err := s.Jobs.Create(ctx, job); err != nil {
		lg.Error("submit create job failed", slog.String("job_id", id), slog.String("flavor", req.Flavor), slog.Any("error", err))
		// P7: a rejected insert (duplicate id, or any other failure) leaves no
		// staging file behind.
		if s.Staging != nil {
			if rmErr := s.Staging.Remove(stagedPath); rmErr != nil {
				lg.Error("submit rollback staged input failed", slog.String("job_id", id), slog.Any("error", rmErr))
			}
		}
		return "", err
	}

	task := domain.TaskMessage{
		ID:       id,
		Flavor:   req.Flavor,
		Inputs:   job.Inputs,
		Model:    req.Model,
		Priority: req.Priority,
	}
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("%w: marshal task", domain.ErrInternal)
	}

	if err := s.Broker.Publish(ctx, desc.TaskQueue, id, body); err != nil {
		lg.Error("submit publish failed, leaving job pending for janitor reap", slog.String("job_id", id), slog.Any("error", err))
		if s.Staging != nil {
			if rmErr := s.Staging.Remove(stagedPath); rmErr != nil {
				lg.Error("submit remove staged input failed", slog.String("job_id", id), slog.Any("error", rmErr))
			}
		}
		return "", fmt.Errorf("%w: enqueue task: %v", domain.ErrInternal, err)
	}

	lg.Info("submit accepted", slog.String("job_id", id), slog.String("flavor", req.Flavor))
	return id, nil
}

func validateParams(desc registry.FlavorDescriptor, params map[string]any) error {
	for _, f := range desc.Fields {
		if !f.Required {
			continue
		}
		v, ok := params[f.Name]
		if !ok || v == nil {
			return fmt.Errorf("%w: missing required field %q", domain.ErrInvalidArgument, f.Name)
		}
		if s, isStr := v.(string); f.Type == registry.FieldString && isStr && s == "" {
			return fmt.Errorf("%w: field %q must not be empty", domain.ErrInvalidArgument, f.Name)
		}
	}
	return nil
}
