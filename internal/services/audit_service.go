package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/metrics"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
	"gorm.io/datatypes"
)

// Audit actions written by the exam and marks services.
const (
	ActionPublishExam         = "publish_exam"
	ActionUnlockExam          = "unlock_exam"
	ActionLockExam            = "lock_exam"
	ActionDeleteExam          = "delete_exam"
	ActionUpdateLockedExam    = "update_locked_exam"
	ActionEditMarksUnlocked   = "edit_marks_unlocked_exam"
	ActionEditMarksCompleted  = "edit_marks_completed_exam"
	ActionDeleteMarksUnlocked = "delete_marks_unlocked_exam"
	ActionDeleteMarksComplete = "delete_marks_completed_exam"
)

const (
	EntityExam        = "exam"
	EntityStudentMark = "student_mark"
)

type AuditEvent struct {
	SchoolID   *uuid.UUID
	ActorID    uuid.UUID
	ActorName  string
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Details    string
	Metadata   map[string]interface{}
}

// AuditService writes audit events into the outbox of the caller's
// transaction and serves the delivered log back.
type AuditService struct {
	store    repository.Store
	origin   string
	resolver authz.TenantResolver
}

func NewAuditService(store repository.Store, origin string, resolver authz.TenantResolver) *AuditService {
	if origin == "" {
		origin = "exams"
	}
	if resolver == nil {
		resolver = authz.NewDirectoryResolver(store.Directory())
	}
	return &AuditService{store: store, origin: origin, resolver: resolver}
}

// Record enqueues ev in tx. The entry reaches the audit log only if tx commits.
func (s *AuditService) Record(ctx context.Context, tx repository.Store, ev AuditEvent) error {
	entry := models.AuditLogEntry{
		ID:         uuid.New(),
		SchoolID:   ev.SchoolID,
		Timestamp:  time.Now().UTC(),
		ActorID:    ev.ActorID,
		ActorName:  ev.ActorName,
		Action:     ev.Action,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Details:    ev.Details,
		Origin:     s.origin,
		Metadata:   ev.Metadata,
	}
	payload, err := encodeEntry(&entry)
	if err != nil {
		return err
	}
	if err := tx.Outbox().Enqueue(ctx, &models.AuditOutbox{Payload: payload, Status: models.OutboxPending}); err != nil {
		return fmt.Errorf("enqueue audit %s: %w", ev.Action, err)
	}
	metrics.AuditEvents.WithLabelValues("enqueued").Inc()
	return nil
}

// List returns delivered audit entries, newest first, scoped to the caller's school.
func (s *AuditService) List(ctx context.Context, caller authz.Caller, filter repository.AuditFilter) ([]models.AuditLogEntry, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if !caps.ViewAudit {
		return nil, ErrUnauthorized
	}
	if !caps.AnyTenant {
		filter.SchoolID = caps.TenantID
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.store.AuditLog().List(ctx, filter)
}

func encodeEntry(entry *models.AuditLogEntry) (datatypes.JSONMap, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode audit entry: %w", err)
	}
	var payload datatypes.JSONMap
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("encode audit entry: %w", err)
	}
	return payload, nil
}

func decodeEntry(payload datatypes.JSONMap) (*models.AuditLogEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var entry models.AuditLogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// AuditSink is where relayed entries end up.
type AuditSink interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
}

type RelayStats struct {
	Delivered int
	Retried   int
	Failed    int
}

// AuditRelay moves committed outbox entries into the audit sink. A failing
// sink only delays delivery; it never affects the operation that produced
// the entry.
type AuditRelay struct {
	store       repository.Store
	sink        AuditSink
	batchSize   int
	maxAttempts int
}

func NewAuditRelay(store repository.Store, sink AuditSink, batchSize, maxAttempts int) *AuditRelay {
	if sink == nil {
		sink = store.AuditLog()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &AuditRelay{store: store, sink: sink, batchSize: batchSize, maxAttempts: maxAttempts}
}

// BatchSize is the most entries one Flush handles.
func (r *AuditRelay) BatchSize() int {
	return r.batchSize
}

// Flush delivers one batch of pending entries.
func (r *AuditRelay) Flush(ctx context.Context) (RelayStats, error) {
	var stats RelayStats
	items, err := r.store.Outbox().Pending(ctx, r.batchSize)
	if err != nil {
		return stats, fmt.Errorf("load pending audit entries: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		deliverErr := r.deliver(ctx, item)
		if deliverErr == nil {
			if err := r.store.Outbox().MarkDelivered(ctx, item.ID, time.Now().UTC()); err != nil {
				log.Printf("audit relay: mark %s delivered: %v", item.ID, err)
				continue
			}
			stats.Delivered++
			metrics.AuditEvents.WithLabelValues("delivered").Inc()
			continue
		}

		attempts := item.Attempts + 1
		status := models.OutboxPending
		if attempts >= r.maxAttempts {
			status = models.OutboxFailed
			stats.Failed++
			metrics.AuditEvents.WithLabelValues("failed").Inc()
			log.Printf("audit relay: giving up on %s after %d attempts: %v", item.ID, attempts, deliverErr)
		} else {
			stats.Retried++
			metrics.AuditEvents.WithLabelValues("retried").Inc()
		}
		if err := r.store.Outbox().MarkFailedAttempt(ctx, item.ID, attempts, deliverErr.Error(), status); err != nil {
			log.Printf("audit relay: record attempt for %s: %v", item.ID, err)
		}
	}

	if pending, err := r.store.Outbox().CountByStatus(ctx, models.OutboxPending); err == nil {
		metrics.AuditOutboxPending.Set(float64(pending))
	}
	return stats, nil
}

// Drain runs up to passes Flush rounds, stopping early once a round handles
// less than a full batch.
func (r *AuditRelay) Drain(ctx context.Context, passes int) (RelayStats, error) {
	var total RelayStats
	for i := 0; i < passes; i++ {
		stats, err := r.Flush(ctx)
		total.Delivered += stats.Delivered
		total.Retried += stats.Retried
		total.Failed += stats.Failed
		if err != nil {
			return total, err
		}
		if stats.Delivered+stats.Retried+stats.Failed < r.batchSize {
			break
		}
	}
	return total, nil
}

func (r *AuditRelay) deliver(ctx context.Context, item models.AuditOutbox) error {
	entry, err := decodeEntry(item.Payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return r.sink.Append(ctx, entry)
}

// Run flushes every interval until ctx is cancelled.
func (r *AuditRelay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := r.Flush(ctx)
			if err != nil {
				log.Printf("audit relay: %v", err)
				continue
			}
			if stats.Delivered+stats.Retried+stats.Failed > 0 {
				log.Printf("audit relay: delivered=%d retried=%d failed=%d", stats.Delivered, stats.Retried, stats.Failed)
			}
		}
	}
}
