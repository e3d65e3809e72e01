package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/metrics"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
	"gorm.io/datatypes"
)

var examCodePrefix = map[models.ExamType]string{
	models.ExamTypeMidTerm:    "MT",
	models.ExamTypeEndOfTerm:  "ET",
	models.ExamTypeMock:       "MK",
	models.ExamTypeQuiz:       "QZ",
	models.ExamTypeAssessment: "AS",
	models.ExamTypeFinal:      "FN",
}

// ExamDefinition is the caller-supplied part of a new exam. Subjects may come
// structured or, from older clients, as SubjectsBlob.
type ExamDefinition struct {
	Name           string               `json:"name" validate:"required,max=255"`
	Type           models.ExamType      `json:"type" validate:"required"`
	StartDate      time.Time            `json:"start_date"`
	EndDate        time.Time            `json:"end_date"`
	AcademicYearID *uuid.UUID           `json:"academic_year_id"`
	TermID         *uuid.UUID           `json:"term_id"`
	DepartmentID   *uuid.UUID           `json:"department_id"`
	ClassIDs       []string             `json:"class_ids" validate:"dive,uuid"`
	TotalMarks     float64              `json:"total_marks" validate:"gte=0"`
	Weightage      float64              `json:"weightage" validate:"gte=0,lte=100"`
	Subjects       []models.ExamSubject `json:"subjects"`
	SubjectsBlob   string               `json:"subjects_json"`
}

// ExamUpdate carries the fields to change; nil means keep.
type ExamUpdate struct {
	Name           *string               `json:"name" validate:"omitempty,max=255"`
	Type           *models.ExamType      `json:"type"`
	StartDate      *time.Time            `json:"start_date"`
	EndDate        *time.Time            `json:"end_date"`
	AcademicYearID *uuid.UUID            `json:"academic_year_id"`
	TermID         *uuid.UUID            `json:"term_id"`
	DepartmentID   *uuid.UUID            `json:"department_id"`
	ClassIDs       *[]string             `json:"class_ids"`
	TotalMarks     *float64              `json:"total_marks" validate:"omitempty,gte=0"`
	Weightage      *float64              `json:"weightage" validate:"omitempty,gte=0,lte=100"`
	Status         *models.ExamStatus    `json:"status"`
	Subjects       *[]models.ExamSubject `json:"subjects"`
	SubjectsBlob   *string               `json:"subjects_json"`
}

type ExamService struct {
	store    repository.Store
	audit    *AuditService
	resolver authz.TenantResolver
}

func NewExamService(store repository.Store, audit *AuditService, resolver authz.TenantResolver) *ExamService {
	if resolver == nil {
		resolver = authz.NewDirectoryResolver(store.Directory())
	}
	return &ExamService{store: store, audit: audit, resolver: resolver}
}

// GenerateExamCode builds a human readable code such as MT-2026-4F9A1C.
func GenerateExamCode(t models.ExamType, now time.Time) string {
	prefix, ok := examCodePrefix[t]
	if !ok {
		prefix = "EX"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%d-%s", prefix, now.Year(), suffix)
}

func resolveSubjects(structured []models.ExamSubject, blob string) ([]models.ExamSubject, error) {
	subjects := structured
	if len(subjects) == 0 && blob != "" {
		parsed, err := ParseSubjectsBlob(blob)
		if err != nil {
			return nil, err
		}
		subjects = parsed
	}
	if err := validateSubjects(subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}

func (s *ExamService) loadExam(ctx context.Context, caps authz.Capabilities, id uuid.UUID) (*models.Exam, error) {
	return examFor(ctx, s.store, caps, id)
}

// examFor loads an exam the caller's school owns.
func examFor(ctx context.Context, store repository.Store, caps authz.Capabilities, id uuid.UUID) (*models.Exam, error) {
	exam, err := store.Exams().Get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, "exam "+id.String())
	}
	if !caps.CanAccess(exam.SchoolID) {
		return nil, fmt.Errorf("exam %s belongs to another school: %w", id, ErrUnauthorized)
	}
	return exam, nil
}

func (s *ExamService) CreateExam(ctx context.Context, schoolID uuid.UUID, def ExamDefinition, caller authz.Caller) (*models.Exam, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if !caps.ManageExams || !caps.CanAccess(schoolID) {
		return nil, ErrUnauthorized
	}
	if err := validateStruct(&def); err != nil {
		return nil, err
	}
	if !def.Type.Valid() {
		return nil, invalidInput("unknown exam type %q", def.Type)
	}
	if !def.StartDate.IsZero() && !def.EndDate.IsZero() && def.EndDate.Before(def.StartDate) {
		return nil, invalidInput("end_date is before start_date")
	}
	subjects, err := resolveSubjects(def.Subjects, def.SubjectsBlob)
	if err != nil {
		return nil, err
	}

	total := def.TotalMarks
	if total == 0 {
		for _, sub := range subjects {
			total += sub.MaxMarks
		}
	}

	exam := &models.Exam{
		SchoolID:       schoolID,
		Code:           GenerateExamCode(def.Type, time.Now()),
		Name:           strings.TrimSpace(def.Name),
		Type:           def.Type,
		StartDate:      def.StartDate,
		EndDate:        def.EndDate,
		AcademicYearID: def.AcademicYearID,
		TermID:         def.TermID,
		DepartmentID:   def.DepartmentID,
		ClassIDs:       datatypes.JSONSlice[string](def.ClassIDs),
		TotalMarks:     total,
		Weightage:      def.Weightage,
		Status:         models.ExamStatusDraft,
		CreatedBy:      caps.UserID,
		Subjects:       subjects,
	}
	if err := s.store.Exams().Create(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}
	metrics.ExamTransitions.WithLabelValues("create").Inc()
	return exam, nil
}

func (s *ExamService) GetExam(ctx context.Context, id uuid.UUID, caller authz.Caller) (*models.Exam, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	return s.loadExam(ctx, caps, id)
}

// ListExams lists the caller's school's exams. Platform operators must name a school.
func (s *ExamService) ListExams(ctx context.Context, filter repository.ExamFilter, caller authz.Caller) ([]models.Exam, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if filter.SchoolID == nil {
		filter.SchoolID = caps.TenantID
	}
	if filter.SchoolID == nil || !caps.CanAccess(*filter.SchoolID) {
		return nil, ErrUnauthorized
	}
	return s.store.Exams().List(ctx, filter)
}

// UpdateExam applies upd. A published exam that has not been unlocked only
// accepts changes from an administrator passing adminOverride, and every
// such change is audited.
func (s *ExamService) UpdateExam(ctx context.Context, id uuid.UUID, upd ExamUpdate, caller authz.Caller, adminOverride bool) (*models.Exam, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if !caps.ManageExams {
		return nil, ErrUnauthorized
	}
	exam, err := s.loadExam(ctx, caps, id)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(&upd); err != nil {
		return nil, err
	}

	overridden := false
	if exam.Status == models.ExamStatusPublished && !exam.Unlocked {
		if !adminOverride || !caps.OverrideLock {
			metrics.LockRejections.WithLabelValues("exam_locked").Inc()
			return nil, fmt.Errorf("exam %s: %w", exam.ID, ErrLockedExam)
		}
		overridden = true
	}

	var events []AuditEvent
	now := time.Now().UTC()

	if upd.Status != nil && *upd.Status != exam.Status {
		target := *upd.Status
		if target.Rank() < 0 {
			return nil, invalidInput("unknown status %q", target)
		}
		if target.Rank() < exam.Status.Rank() {
			return nil, fmt.Errorf("%s to %s: %w", exam.Status, target, ErrInvalidTransition)
		}
		if target == models.ExamStatusPublished {
			exam.PublishedBy = &caps.UserID
			exam.PublishedAt = &now
			events = append(events, s.examEvent(exam, caps, ActionPublishExam, "exam published", nil))
		}
		exam.Status = target
	}

	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, invalidInput("name must not be empty")
		}
		exam.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Type != nil {
		if !upd.Type.Valid() {
			return nil, invalidInput("unknown exam type %q", *upd.Type)
		}
		exam.Type = *upd.Type
	}
	if upd.StartDate != nil {
		exam.StartDate = *upd.StartDate
	}
	if upd.EndDate != nil {
		exam.EndDate = *upd.EndDate
	}
	if !exam.StartDate.IsZero() && !exam.EndDate.IsZero() && exam.EndDate.Before(exam.StartDate) {
		return nil, invalidInput("end_date is before start_date")
	}
	if upd.AcademicYearID != nil {
		exam.AcademicYearID = upd.AcademicYearID
	}
	if upd.TermID != nil {
		exam.TermID = upd.TermID
	}
	if upd.DepartmentID != nil {
		exam.DepartmentID = upd.DepartmentID
	}
	if upd.ClassIDs != nil {
		exam.ClassIDs = datatypes.JSONSlice[string](*upd.ClassIDs)
	}
	if upd.TotalMarks != nil {
		exam.TotalMarks = *upd.TotalMarks
	}
	if upd.Weightage != nil {
		exam.Weightage = *upd.Weightage
	}

	var subjects []models.ExamSubject
	replaceSubjects := false
	if upd.Subjects != nil || upd.SubjectsBlob != nil {
		var structured []models.ExamSubject
		blob := ""
		if upd.Subjects != nil {
			structured = *upd.Subjects
		}
		if upd.SubjectsBlob != nil {
			blob = *upd.SubjectsBlob
		}
		subjects, err = resolveSubjects(structured, blob)
		if err != nil {
			return nil, err
		}
		replaceSubjects = true
	}

	if overridden {
		events = append(events, s.examEvent(exam, caps, ActionUpdateLockedExam, "published exam changed under administrator override", nil))
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Exams().Update(ctx, exam); err != nil {
			return err
		}
		if replaceSubjects {
			if err := tx.Exams().ReplaceSubjects(ctx, exam.ID, subjects); err != nil {
				return err
			}
		}
		for _, ev := range events {
			if err := s.audit.Record(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update exam %s: %w", exam.ID, err)
	}
	metrics.ExamTransitions.WithLabelValues("update").Inc()
	return s.store.Exams().Get(ctx, exam.ID)
}

// PublishExam makes results final. Publishing an already published exam is a no-op.
func (s *ExamService) PublishExam(ctx context.Context, id uuid.UUID, caller authz.Caller) (*models.Exam, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if !caps.ManageExams {
		return nil, ErrUnauthorized
	}
	exam, err := s.loadExam(ctx, caps, id)
	if err != nil {
		return nil, err
	}
	if exam.Status == models.ExamStatusPublished {
		return exam, nil
	}

	now := time.Now().UTC()
	exam.Status = models.ExamStatusPublished
	exam.PublishedBy = &caps.UserID
	exam.PublishedAt = &now
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Exams().Update(ctx, exam); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, s.examEvent(exam, caps, ActionPublishExam, "exam published", nil))
	})
	if err != nil {
		return nil, fmt.Errorf("publish exam %s: %w", exam.ID, err)
	}
	metrics.ExamTransitions.WithLabelValues("publish").Inc()
	return exam, nil
}

// UnlockExam opens a completed or published exam for corrections.
func (s *ExamService) UnlockExam(ctx context.Context, id uuid.UUID, caller authz.Caller, reason string) (*models.Exam, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if !caps.OverrideLock {
		return nil, ErrUnauthorized
	}
	exam, err := s.loadExam(ctx, caps, id)
	if err != nil {
		return nil, err
	}
	if !exam.Status.Closed() {
		return nil, fmt.Errorf("cannot unlock a %s exam: %w", exam.Status, ErrInvalidTransition)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalidInput("an unlock reason is required")
	}

	now := time.Now().UTC()
	exam.Unlocked = true
	exam.UnlockedBy = &caps.UserID
	exam.UnlockedByName = caps.Name
	exam.UnlockedAt = &now
	exam.UnlockReason = reason
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Exams().Update(ctx, exam); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, s.examEvent(exam, caps, ActionUnlockExam, reason, map[string]interface{}{
			"status": string(exam.Status),
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("unlock exam %s: %w", exam.ID, err)
	}
	metrics.ExamTransitions.WithLabelValues("unlock").Inc()
	return exam, nil
}

// LockExam closes an unlocked exam again.
func (s *ExamService) LockExam(ctx context.Context, id uuid.UUID, caller authz.Caller) (*models.Exam, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if !caps.OverrideLock {
		return nil, ErrUnauthorized
	}
	exam, err := s.loadExam(ctx, caps, id)
	if err != nil {
		return nil, err
	}
	if !exam.Status.Closed() {
		return nil, fmt.Errorf("cannot lock a %s exam: %w", exam.Status, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	exam.Unlocked = false
	exam.LockedAt = &now
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Exams().Update(ctx, exam); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, s.examEvent(exam, caps, ActionLockExam, "exam locked", nil))
	})
	if err != nil {
		return nil, fmt.Errorf("lock exam %s: %w", exam.ID, err)
	}
	metrics.ExamTransitions.WithLabelValues("lock").Inc()
	return exam, nil
}

// DeleteExam removes the exam and every ledger row that references it.
func (s *ExamService) DeleteExam(ctx context.Context, id uuid.UUID, caller authz.Caller) (int64, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return 0, err
	}
	if !caps.ManageExams {
		return 0, ErrUnauthorized
	}
	exam, err := s.loadExam(ctx, caps, id)
	if err != nil {
		return 0, err
	}

	var removed int64
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		n, err := tx.Marks().DeleteByExam(ctx, exam.ID)
		if err != nil {
			return err
		}
		removed = n
		if err := tx.Exams().Delete(ctx, exam.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return mapNotFound(err, "exam "+exam.ID.String())
			}
			return err
		}
		return s.audit.Record(ctx, tx, s.examEvent(exam, caps, ActionDeleteExam,
			fmt.Sprintf("deleted exam %s (%s) and %d marks", exam.Code, exam.Name, n),
			map[string]interface{}{"marks_removed": n}))
	})
	if err != nil {
		return 0, fmt.Errorf("delete exam %s: %w", exam.ID, err)
	}
	metrics.ExamTransitions.WithLabelValues("delete").Inc()
	return removed, nil
}

func (s *ExamService) examEvent(exam *models.Exam, caps authz.Capabilities, action, details string, meta map[string]interface{}) AuditEvent {
	school := exam.SchoolID
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["exam_code"] = exam.Code
	return AuditEvent{
		SchoolID:   &school,
		ActorID:    caps.UserID,
		ActorName:  caps.Name,
		Action:     action,
		EntityType: EntityExam,
		EntityID:   exam.ID,
		Details:    details,
		Metadata:   meta,
	}
}
