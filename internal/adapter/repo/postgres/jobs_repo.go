// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ai-infra/jobpipeline/internal/domain"
)

// PgxPool is the subset of *pgxpool.Pool this package depends on, narrowed so
// tests can substitute a lightweight fake instead of a live database.
type PgxPool interface {
	Exec(ctx domain.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx domain.Context, sql string, args ...any) (RowsIter, error)
	QueryRow(ctx domain.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx domain.Context, opts pgx.TxOptions) (Tx, error)
}

// RowsIter is the subset of pgx.Rows ListStalePending depends on, narrowed so
// tests can substitute a fake result set instead of a live query.
type RowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Tx is the subset of pgx.Tx UpdateStatus and CleanupService depend on,
// narrowed so tests can substitute a fake transaction instead of a live one.
type Tx interface {
	QueryRow(ctx domain.Context, sql string, args ...any) pgx.Row
	Exec(ctx domain.Context, sql string, args ...any) (pgx.CommandTag, error)
	Commit(ctx domain.Context) error
	Rollback(ctx domain.Context) error
}

// Beginner opens transactions, narrowed from *pgxpool.Pool so CleanupService
// can be driven by a fake Tx in tests.
type Beginner interface {
	Begin(ctx domain.Context) (Tx, error)
}

// JobRepo persists and loads jobs from PostgreSQL using a minimal pgx pool.
// It implements domain.JobStore (C1).
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new pending job. Returns domain.ErrConflict if id already exists.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
	)
	params, err := json.Marshal(j.Inputs.Params)
	if err != nil {
		return fmt.Errorf("op=job.create.marshal_params: %w", err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO jobs
		(id, flavor, priority, primary_path, secondary_path, params, model,
		 status, result, result_path, error, webhook_retry_count, webhook_status_code,
		 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err = r.Pool.Exec(ctx, q,
		j.ID, j.Flavor, j.Priority, j.Inputs.PrimaryPath, j.Inputs.SecondaryPath, params, j.Model,
		domain.JobPending, "", "", "", 0, 0,
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("op=job.create: %w", domain.ErrConflict)
		}
		return fmt.Errorf("op=job.create: %w", err)
	}
	return nil
}

// UpdateStatus applies a non-regressing status transition within an explicit
// transaction, silently ignoring regressions and unknown ids. applied is
// false whenever the row was left untouched (unknown id or regression/duplicate).
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, result, resultPath, errMsg string) (bool, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, fmt.Errorf("op=job.update_status.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := tx.Rollback(ctx); rerr != nil {
				slog.Error("failed to rollback job status update", slog.String("job_id", id), slog.Any("error", rerr))
			}
		}
	}()

	var current domain.JobStatus
	row := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id=$1 FOR UPDATE`, id)
	if err := row.Scan(&current); err != nil {
		if err == pgx.ErrNoRows {
			slog.Warn("status update for unknown job id dropped", slog.String("job_id", id))
			return false, nil
		}
		return false, fmt.Errorf("op=job.update_status.select: %w", err)
	}

	if !current.Advances(status) {
		slog.Warn("status regression dropped",
			slog.String("job_id", id),
			slog.String("current", string(current)),
			slog.String("attempted", string(status)))
		return false, nil
	}

	q := `UPDATE jobs SET status=$2, result=$3, result_path=$4, error=$5, updated_at=$6 WHERE id=$1`
	if _, err := tx.Exec(ctx, q, id, status, result, resultPath, errMsg, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("op=job.update_status.exec: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("op=job.update_status.commit: %w", err)
	}
	committed = true
	return true, nil
}

// RecordWebhookAttempt records the HTTP status of a webhook attempt and, for
// terminal-status attempts, increments webhook_retry_count.
func (r *JobRepo) RecordWebhookAttempt(ctx domain.Context, id string, statusCode int, countsAsRetry bool) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.RecordWebhookAttempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `UPDATE jobs SET webhook_status_code=$2, webhook_retry_count=webhook_retry_count+$3, updated_at=$4 WHERE id=$1`
	inc := 0
	if countsAsRetry {
		inc = 1
	}
	if _, err := r.Pool.Exec(ctx, q, id, statusCode, inc, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=job.record_webhook_attempt: %w", err)
	}
	return nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, flavor, priority, COALESCE(primary_path,''), COALESCE(secondary_path,''), params, COALESCE(model,''),
		status, COALESCE(result,''), COALESCE(result_path,''), COALESCE(error,''),
		webhook_retry_count, webhook_status_code, created_at, updated_at
		FROM jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// ListStalePending returns pending jobs whose UpdatedAt is older than cutoff,
// i.e. rows abandoned after a publish failure that the Janitor should reap.
func (r *JobRepo) ListStalePending(ctx domain.Context, cutoff time.Time) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStalePending")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, flavor, priority, COALESCE(primary_path,''), COALESCE(secondary_path,''), params, COALESCE(model,''),
		status, COALESCE(result,''), COALESCE(result_path,''), COALESCE(error,''),
		webhook_retry_count, webhook_status_code, created_at, updated_at
		FROM jobs WHERE status=$1 AND updated_at < $2`
	rows, err := r.Pool.Query(ctx, q, domain.JobPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_stale_pending: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list_stale_pending_scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_stale_pending_rows: %w", err)
	}
	return out, nil
}

// rowScanner abstracts pgx.Row / pgx.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var paramsRaw []byte
	if err := row.Scan(
		&j.ID, &j.Flavor, &j.Priority, &j.Inputs.PrimaryPath, &j.Inputs.SecondaryPath, &paramsRaw, &j.Model,
		&j.Status, &j.Result, &j.ResultPath, &j.Error,
		&j.WebhookRetryCount, &j.WebhookStatusCode, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return domain.Job{}, err
	}
	if len(paramsRaw) > 0 {
		if err := json.Unmarshal(paramsRaw, &j.Inputs.Params); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	return j, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.SQLState() == "23505"
	}
	return false
}

func asPgError(err error, target *interface{ SQLState() string }) bool {
	type sqlStater interface{ SQLState() string }
	for err != nil {
		if s, ok := err.(sqlStater); ok {
			*target = s
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
