package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit_SinkFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusCompleted)
	f.store.SetAuditAppendError(errors.New("audit store offline"))

	unlocked, err := f.exams.UnlockExam(f.ctx, exam.ID, f.admin, "moderation")
	require.NoError(t, err)
	assert.True(t, unlocked.Unlocked)

	stats, err := f.relay.Flush(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Delivered)
	assert.Equal(t, 1, stats.Retried)

	got, err := f.exams.GetExam(f.ctx, exam.ID, f.admin)
	require.NoError(t, err)
	assert.True(t, got.Unlocked, "the unlock stays committed")

	f.store.SetAuditAppendError(nil)
	stats, err = f.relay.Flush(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delivered)

	entries, err := f.store.AuditLog().List(f.ctx, repository.AuditFilter{Action: ActionUnlockExam})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Grace Admin", entries[0].ActorName)
	assert.Equal(t, "completed", entries[0].Metadata["status"])
}

func TestAuditRelay_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusCompleted)
	_, err := f.exams.UnlockExam(f.ctx, exam.ID, f.admin, "moderation")
	require.NoError(t, err)
	f.store.SetAuditAppendError(errors.New("down"))

	var failed int
	for i := 0; i < 3; i++ {
		stats, err := f.relay.Flush(f.ctx)
		require.NoError(t, err)
		failed += stats.Failed
	}
	assert.Equal(t, 1, failed)

	n, err := f.store.Outbox().CountByStatus(f.ctx, models.OutboxFailed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = f.store.Outbox().CountByStatus(f.ctx, models.OutboxPending)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAudit_RolledBackOperationLeavesNoEntry(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusCompleted)

	err := f.store.Transaction(f.ctx, func(tx repository.Store) error {
		if err := f.audit.Record(f.ctx, tx, AuditEvent{Action: ActionLockExam, EntityType: EntityExam, EntityID: exam.ID}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	n, err := f.store.Outbox().CountByStatus(f.ctx, models.OutboxPending)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuditService_List(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusPublished)
	_, err := f.relay.Flush(f.ctx)
	require.NoError(t, err)

	entries, err := f.audit.List(f.ctx, f.admin, repository.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, exam.ID, entries[0].EntityID)

	foreign, err := f.audit.List(f.ctx, f.outsider, repository.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, foreign)

	_, err = f.audit.List(f.ctx, f.teacher, repository.AuditFilter{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuditRelay_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	go func() {
		f.relay.Run(ctx, 10_000_000)
		close(done)
	}()
	cancel()
	<-done
}

// staticResolver answers from a fixed table instead of the user directory.
type staticResolver map[uuid.UUID]authz.Identity

func (r staticResolver) ResolveIdentity(_ context.Context, userID uuid.UUID) (authz.Identity, error) {
	if id, ok := r[userID]; ok {
		return id, nil
	}
	return authz.Identity{}, authz.ErrUnauthorized
}

func TestAuditService_ListUsesInjectedResolver(t *testing.T) {
	f := newFixture(t)
	f.newExam(t, models.ExamStatusPublished)
	_, err := f.relay.Flush(f.ctx)
	require.NoError(t, err)

	auditor := uuid.New()
	svc := NewAuditService(f.store, "test", staticResolver{
		auditor: {UserID: auditor, Name: "External Auditor", Role: "school_admin", SchoolID: &f.school},
	})

	entries, err := svc.List(f.ctx, authz.Caller{UserID: auditor}, repository.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// The directory knows this admin, the injected resolver does not.
	_, err = svc.List(f.ctx, f.admin, repository.AuditFilter{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func (f *fixture) enqueueAudit(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := f.store.Transaction(f.ctx, func(tx repository.Store) error {
			return f.audit.Record(f.ctx, tx, AuditEvent{SchoolID: &f.school, Action: ActionLockExam, EntityType: EntityExam, EntityID: uuid.New()})
		})
		require.NoError(t, err)
	}
}

func TestAuditRelay_Drain(t *testing.T) {
	t.Run("runs batches until the outbox is empty", func(t *testing.T) {
		f := newFixture(t)
		f.enqueueAudit(t, 5)

		stats, err := NewAuditRelay(f.store, nil, 2, 3).Drain(f.ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 5, stats.Delivered)

		n, err := f.store.Outbox().CountByStatus(f.ctx, models.OutboxPending)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("stops after a short batch with the default batch size", func(t *testing.T) {
		f := newFixture(t)
		f.enqueueAudit(t, 3)
		f.store.SetAuditAppendError(errors.New("down"))

		relay := NewAuditRelay(f.store, nil, 0, 5)
		assert.Equal(t, 100, relay.BatchSize())

		stats, err := relay.Drain(f.ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Retried, "one pass only")
		assert.Zero(t, stats.Failed)
	})
}
