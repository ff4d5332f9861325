package usecase

import (
	"go.opentelemetry.io/otel"

	"github.com/ai-infra/jobpipeline/internal/domain"
)

// StatusService fetches job status/result for the Ingress API.
type StatusService struct {
	Jobs domain.JobStore
}

// JobView is the read-side DTO returned to handlers, decoupled from the
// storage entity so response shape changes don't ripple into the repo layer.
type JobView struct {
	ID         string
	Flavor     string
	Status     domain.JobStatus
	Result     string
	ResultPath string
	Error      string
	CreatedAt  string
	UpdatedAt  string
}

// Get fetches a single job by id. Returns domain.ErrNotFound when absent.
func (s StatusService) Get(ctx domain.Context, id string) (JobView, error) {
	tr := otel.Tracer("usecase.status")
	ctx, span := tr.Start(ctx, "StatusService.Get")
	defer span.End()

	j, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return JobView{
		ID:         j.ID,
		Flavor:     j.Flavor,
		Status:     j.Status,
		Result:     j.Result,
		ResultPath: j.ResultPath,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:  j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}
