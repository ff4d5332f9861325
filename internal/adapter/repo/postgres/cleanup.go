package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CleanupService handles long-horizon Job Store row retention. This is
// separate from the Janitor's staging-file sweep: it age-limits the jobs
// table itself so it does not grow unbounded across terminal jobs.
type CleanupService struct {
	Pool          Beginner
	RetentionDays int
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(pool Beginner, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes terminal job rows older than the retention period.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := tx.Rollback(ctx); rerr != nil {
				slog.Error("failed to rollback job retention sweep", slog.Any("error", rerr))
			}
		}
	}()

	tag, err := tx.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed','failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup delete jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}
	committed = true

	slog.Info("job store retention sweep completed",
		slog.Int64("deleted_jobs", tag.RowsAffected()),
		slog.Time("cutoff", cutoff),
	)

	return nil
}

// RunPeriodic starts a periodic retention sweep.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial job retention sweep failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("job retention sweep stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic job retention sweep failed", slog.Any("error", err))
			}
		}
	}
}
