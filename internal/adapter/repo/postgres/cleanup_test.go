package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCleanupTx is a minimal Tx double local to this test file; CleanupOldData
// only ever calls Exec/Commit/Rollback.
type fakeCleanupTx struct {
	execErr     error
	commitErr   error
	rollbackErr error
	rolledBack  bool
}

func (t *fakeCleanupTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row { return nil }
func (t *fakeCleanupTx) Exec(_ context.Context, _ string, _ ...any) (pgx.CommandTag, error) {
	return pgx.CommandTag{}, t.execErr
}
func (t *fakeCleanupTx) Commit(_ context.Context) error { return t.commitErr }
func (t *fakeCleanupTx) Rollback(_ context.Context) error {
	t.rolledBack = true
	return t.rollbackErr
}

type fakeBeginner struct {
	beginErr error
	tx       *fakeCleanupTx
}

func (b *fakeBeginner) Begin(_ context.Context) (Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return b.tx, nil
}

func TestCleanupService_CleanupOldData_OK(t *testing.T) {
	tx := &fakeCleanupTx{}
	svc := NewCleanupService(&fakeBeginner{tx: tx}, 30)

	require.NoError(t, svc.CleanupOldData(context.Background()))
	assert.False(t, tx.rolledBack, "a committed tx must not also be rolled back")
}

func TestCleanupService_BeginError(t *testing.T) {
	svc := NewCleanupService(&fakeBeginner{beginErr: errors.New("connection refused")}, 30)
	err := svc.CleanupOldData(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestCleanupService_ExecError(t *testing.T) {
	tx := &fakeCleanupTx{execErr: errors.New("deadlock detected")}
	svc := NewCleanupService(&fakeBeginner{tx: tx}, 30)

	err := svc.CleanupOldData(context.Background())
	require.Error(t, err)
	assert.True(t, tx.rolledBack)
}

func TestCleanupService_CommitError(t *testing.T) {
	tx := &fakeCleanupTx{commitErr: errors.New("commit failed")}
	svc := NewCleanupService(&fakeBeginner{tx: tx}, 30)

	err := svc.CleanupOldData(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
}

func TestNewCleanupService_NonPositiveRetentionDaysDefaults(t *testing.T) {
	svc := NewCleanupService(&fakeBeginner{tx: &fakeCleanupTx{}}, 0)
	assert.Equal(t, 90, svc.RetentionDays)

	svc = NewCleanupService(&fakeBeginner{tx: &fakeCleanupTx{}}, -5)
	assert.Equal(t, 90, svc.RetentionDays)
}

func TestNewCleanupService_PositiveRetentionDaysKept(t *testing.T) {
	svc := NewCleanupService(&fakeBeginner{tx: &fakeCleanupTx{}}, 365)
	assert.Equal(t, 365, svc.RetentionDays)
}

func TestCleanupService_RunPeriodic_ImmediateCancel(t *testing.T) {
	tx := &fakeCleanupTx{}
	svc := NewCleanupService(&fakeBeginner{tx: tx}, 30)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		svc.RunPeriodic(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodic did not return after ctx cancellation")
	}
}

func TestCleanupService_RunPeriodic_WithError(t *testing.T) {
	tx := &fakeCleanupTx{execErr: errors.New("boom")}
	svc := NewCleanupService(&fakeBeginner{tx: tx}, 30)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.RunPeriodic(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodic did not return after ctx cancellation")
	}
}
