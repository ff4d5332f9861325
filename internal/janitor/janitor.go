// Package janitor implements the Janitor (C7): a daily sweep of the staging
// directory that deletes files belonging to terminal jobs past a retention
// window, or orphaned files with no matching Job row, plus a sweep of
// abandoned pending Job Store rows. Adapted from the teacher's
// internal/adapter/repo/postgres/cleanup.go, generalized from "delete DB
// rows" to "delete staging files keyed by Job Store state".
package janitor

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ai-infra/jobpipeline/internal/domain"
)

// Sweeper walks StagingRoot and the Job Store on a cron schedule.
type Sweeper struct {
	Jobs              domain.JobStore
	StagingRoot       string
	Retention         time.Duration
	StalePendingAfter time.Duration
}

// New constructs a Sweeper.
func New(jobs domain.JobStore, stagingRoot string, retention, stalePendingAfter time.Duration) *Sweeper {
	return &Sweeper{Jobs: jobs, StagingRoot: stagingRoot, Retention: retention, StalePendingAfter: stalePendingAfter}
}

// Run starts the cron-scheduled sweep and blocks until ctx is cancelled.
// schedule is a standard 5-field cron expression evaluated in the named
// IANA time zone (spec.md §4.6 requires a fixed time zone, not local time).
func (sw *Sweeper) Run(ctx domain.Context, schedule, timezone string) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		slog.Warn("janitor: unknown timezone, falling back to UTC", slog.String("timezone", timezone), slog.Any("error", err))
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(schedule, func() { sw.sweepOnce(ctx) })
	if err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	slog.Info("janitor stopping")
	return nil
}

// sweepOnce runs one full sweep: staging files, then stale pending rows.
func (sw *Sweeper) sweepOnce(ctx domain.Context) {
	removed, kept, err := sw.sweepStaging(ctx)
	if err != nil {
		slog.Error("janitor staging sweep failed", slog.Any("error", err))
	} else {
		slog.Info("janitor staging sweep complete", slog.Int("removed", removed), slog.Int("kept", kept))
	}

	if err := sw.sweepStalePending(ctx); err != nil {
		slog.Error("janitor stale pending sweep failed", slog.Any("error", err))
	}
}

// sweepStaging walks StagingRoot. A file is removed if its referenced Job
// is terminal and past Retention since its last update, or if no Job row
// exists for its id prefix at all (orphan). Files for pending/in_progress
// jobs, terminal jobs still within the retention window, or jobs whose
// lookup failed with an error other than not-found, are kept.
func (sw *Sweeper) sweepStaging(ctx domain.Context) (removed, kept int, err error) {
	entries, err := walkFiles(sw.StagingRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	now := time.Now().UTC()
	for _, path := range entries {
		id := idFromStagingFilename(filepath.Base(path))
		if id == "" {
			continue
		}

		job, getErr := sw.Jobs.Get(ctx, id)
		switch {
		case getErr != nil && !errors.Is(getErr, domain.ErrNotFound):
			// Lookup failed for another reason: keep the file for a later sweep.
			slog.Warn("janitor: job lookup failed, keeping staging file", slog.String("path", path), slog.Any("error", getErr))
			kept++
		case getErr != nil:
			// No Job row for this staged file: orphaned, remove unconditionally.
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("janitor: failed to remove orphan staging file", slog.String("path", path), slog.Any("error", rmErr))
				continue
			}
			removed++
		case job.Status.Terminal() && now.Sub(job.UpdatedAt) > sw.Retention:
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("janitor: failed to remove expired staging file", slog.String("path", path), slog.Any("error", rmErr))
				continue
			}
			removed++
		default:
			kept++
		}
	}
	return removed, kept, nil
}

// sweepStalePending marks pending jobs abandoned after a publish failure
// (or process crash between insert and publish) as failed, so they don't
// sit pending forever with no worker ever having seen them.
func (sw *Sweeper) sweepStalePending(ctx domain.Context) error {
	cutoff := time.Now().UTC().Add(-sw.StalePendingAfter)
	stale, err := sw.Jobs.ListStalePending(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, j := range stale {
		applied, err := sw.Jobs.UpdateStatus(ctx, j.ID, domain.JobFailed, "", "", "abandoned before dispatch")
		if err != nil {
			slog.Error("janitor: failed to fail stale pending job", slog.String("job_id", j.ID), slog.Any("error", err))
			continue
		}
		if applied {
			slog.Info("janitor: marked stale pending job failed", slog.String("job_id", j.ID))
		}
	}
	return nil
}

// idFromStagingFilename extracts the job id from a staged filename of the
// form "<id>_<original_name>", matching the staging package's Stage layout.
func idFromStagingFilename(name string) string {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return ""
	}
	return name[:idx]
}

// walkFiles returns the paths of every regular file under root.
func walkFiles(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
