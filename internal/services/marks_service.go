package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/grading"
	"github.com/school-system/exams/internal/metrics"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
)

// MarkEntry is one score for one student in one subject of an exam.
type MarkEntry struct {
	ExamID     uuid.UUID  `json:"exam_id" validate:"required"`
	StudentID  uuid.UUID  `json:"student_id" validate:"required"`
	SubjectID  uuid.UUID  `json:"subject_id" validate:"required"`
	ClassID    *uuid.UUID `json:"class_id"`
	ClassScore float64    `json:"class_score" validate:"gte=0"`
	ExamScore  float64    `json:"exam_score" validate:"gte=0"`
	MaxMarks   float64    `json:"max_marks" validate:"gte=0"`
	IsAbsent   bool       `json:"is_absent"`
	Reason     string     `json:"reason"`
}

type MarksService struct {
	store    repository.Store
	audit    *AuditService
	resolver authz.TenantResolver
}

func NewMarksService(store repository.Store, audit *AuditService, resolver authz.TenantResolver) *MarksService {
	if resolver == nil {
		resolver = authz.NewDirectoryResolver(store.Directory())
	}
	return &MarksService{store: store, audit: audit, resolver: resolver}
}

// gate decides whether caps may write marks of exam. It returns the audit
// action the write must be recorded under, or "" when none is needed.
func gate(exam *models.Exam, caps authz.Capabilities, adminOverride bool, editAction, completedAction string) (string, error) {
	if !exam.Status.Closed() {
		return "", nil
	}
	if !caps.EditLockedMarks {
		metrics.LockRejections.WithLabelValues("teacher_edit").Inc()
		return "", fmt.Errorf("exam %s is %s: %w", exam.ID, exam.Status, ErrTeacherEditForbidden)
	}
	if exam.Unlocked {
		return editAction, nil
	}
	if !adminOverride || !caps.OverrideLock {
		metrics.LockRejections.WithLabelValues("exam_locked").Inc()
		return "", fmt.Errorf("exam %s: %w", exam.ID, ErrLockedExam)
	}
	return completedAction, nil
}

// ComputeMark fills the derived columns of m from its raw scores.
func ComputeMark(m *models.StudentMark) error {
	if m.IsAbsent {
		m.ClassScore = 0
		m.ExamScore = 0
		m.TotalScore = 0
		m.Percentage = 0
		m.Grade = ""
		m.GradeNumber = 0
		m.Remarks = grading.AbsentRemark
		m.Position = nil
		return nil
	}
	m.TotalScore = m.ClassScore + m.ExamScore
	if m.TotalScore > m.MaxMarks {
		return invalidInput("total %.2f exceeds max marks %.2f", m.TotalScore, m.MaxMarks)
	}
	pct, err := grading.Percentage(m.TotalScore, m.MaxMarks)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}
	g := grading.Grade(pct)
	m.Percentage = pct
	m.Grade = g.Grade
	m.GradeNumber = g.GradeNumber
	m.Remarks = g.Remark
	return nil
}

// EnterMark records or corrects one ledger row. The first entry for a
// (exam, student, subject) creates the row; later entries update it.
func (s *MarksService) EnterMark(ctx context.Context, entry MarkEntry, caller authz.Caller, adminOverride bool) (*models.StudentMark, error) {
	mark, err := s.enterMark(ctx, entry, caller, adminOverride)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.MarkWrites.WithLabelValues("enter", outcome).Inc()
	return mark, err
}

func (s *MarksService) enterMark(ctx context.Context, entry MarkEntry, caller authz.Caller, adminOverride bool) (*models.StudentMark, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if !caps.EditMarks {
		return nil, ErrUnauthorized
	}
	if err := validateStruct(&entry); err != nil {
		return nil, err
	}

	exam, err := s.store.Exams().Get(ctx, entry.ExamID)
	if err != nil {
		return nil, mapNotFound(err, "exam "+entry.ExamID.String())
	}
	if !caps.CanAccess(exam.SchoolID) {
		return nil, ErrUnauthorized
	}
	action, err := gate(exam, caps, adminOverride, ActionEditMarksUnlocked, ActionEditMarksCompleted)
	if err != nil {
		return nil, err
	}

	student, err := s.store.Directory().GetStudent(ctx, entry.StudentID)
	if err != nil {
		return nil, mapNotFound(err, "student "+entry.StudentID.String())
	}
	if student.SchoolID != exam.SchoolID {
		return nil, fmt.Errorf("student %s is not enrolled at this school: %w", student.ID, ErrUnauthorized)
	}

	maxMarks := entry.MaxMarks
	if len(exam.Subjects) > 0 {
		sub, ok := exam.Subject(entry.SubjectID)
		if !ok {
			return nil, invalidInput("subject %s is not part of exam %s", entry.SubjectID, exam.Code)
		}
		if maxMarks == 0 {
			maxMarks = sub.MaxMarks
		}
	}
	if maxMarks <= 0 {
		return nil, invalidInput("max_marks must be greater than zero")
	}

	classID := entry.ClassID
	if classID == nil {
		if current, err := s.store.Directory().CurrentClass(ctx, student.ID); err == nil {
			classID = current
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	var saved *models.StudentMark
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		mark, err := tx.Marks().FindByKey(ctx, exam.ID, student.ID, entry.SubjectID)
		existing := err == nil
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			mark = &models.StudentMark{
				SchoolID:         exam.SchoolID,
				ExamID:           exam.ID,
				StudentID:        student.ID,
				SubjectID:        entry.SubjectID,
				SubmissionStatus: models.SubmissionDraft,
			}
		}
		before := mark.TotalScore

		mark.ClassID = classID
		mark.ClassScore = entry.ClassScore
		mark.ExamScore = entry.ExamScore
		mark.MaxMarks = maxMarks
		mark.IsAbsent = entry.IsAbsent
		mark.EnteredBy = caps.UserID
		mark.EnteredByName = caps.Name
		mark.EnteredByRole = caps.EntryRole()
		if reason := strings.TrimSpace(entry.Reason); reason != "" {
			mark.CorrectionReason = reason
		}
		if err := ComputeMark(mark); err != nil {
			return err
		}

		if existing {
			err = tx.Marks().Update(ctx, mark)
		} else {
			err = tx.Marks().Create(ctx, mark)
		}
		if err != nil {
			return err
		}
		saved = mark

		if action == "" {
			return nil
		}
		school := exam.SchoolID
		return s.audit.Record(ctx, tx, AuditEvent{
			SchoolID:   &school,
			ActorID:    caps.UserID,
			ActorName:  caps.Name,
			Action:     action,
			EntityType: EntityStudentMark,
			EntityID:   mark.ID,
			Details:    fmt.Sprintf("marks for student %s in subject %s set to %.2f/%.2f", student.ID, entry.SubjectID, mark.TotalScore, mark.MaxMarks),
			Metadata: map[string]interface{}{
				"exam_id":        exam.ID.String(),
				"exam_status":    string(exam.Status),
				"previous_total": before,
				"new_total":      mark.TotalScore,
				"reason":         mark.CorrectionReason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// EnterMarksBulk enters each mark for examID independently; one failure does
// not stop the rest.
func (s *MarksService) EnterMarksBulk(ctx context.Context, examID uuid.UUID, entries []MarkEntry, caller authz.Caller, adminOverride bool) []ItemResult {
	results := make([]ItemResult, 0, len(entries))
	for _, entry := range entries {
		entry.ExamID = examID
		res := ItemResult{StudentID: entry.StudentID.String(), SubjectID: entry.SubjectID.String()}
		mark, err := s.EnterMark(ctx, entry, caller, adminOverride)
		if err != nil {
			res.Error = err.Error()
			res.err = err
		} else {
			res.ID = mark.ID.String()
			res.Success = true
		}
		results = append(results, res)
	}
	return results
}

func (s *MarksService) ListMarks(ctx context.Context, examID uuid.UUID, filter repository.MarkFilter, caller authz.Caller) ([]models.StudentMark, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	exam, err := s.store.Exams().Get(ctx, examID)
	if err != nil {
		return nil, mapNotFound(err, "exam "+examID.String())
	}
	if !caps.CanAccess(exam.SchoolID) {
		return nil, ErrUnauthorized
	}
	return s.store.Marks().List(ctx, examID, filter)
}

// DeleteMark removes a ledger row under the same gate as EnterMark.
func (s *MarksService) DeleteMark(ctx context.Context, id uuid.UUID, caller authz.Caller, adminOverride bool) error {
	err := s.deleteMark(ctx, id, caller, adminOverride)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.MarkWrites.WithLabelValues("delete", outcome).Inc()
	return err
}

func (s *MarksService) deleteMark(ctx context.Context, id uuid.UUID, caller authz.Caller, adminOverride bool) error {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return err
	}
	if !caps.DeleteMarks {
		return ErrUnauthorized
	}
	mark, err := s.store.Marks().Get(ctx, id)
	if err != nil {
		return mapNotFound(err, "mark "+id.String())
	}
	if !caps.CanAccess(mark.SchoolID) {
		return ErrUnauthorized
	}

	action := ""
	exam, err := s.store.Exams().Get(ctx, mark.ExamID)
	switch {
	case err == nil:
		action, err = gate(exam, caps, adminOverride, ActionDeleteMarksUnlocked, ActionDeleteMarksComplete)
		if err != nil {
			return err
		}
	case !errors.Is(err, repository.ErrNotFound):
		return err
	}

	return s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Marks().Delete(ctx, mark.ID); err != nil {
			return mapNotFound(err, "mark "+mark.ID.String())
		}
		if action == "" {
			return nil
		}
		school := mark.SchoolID
		return s.audit.Record(ctx, tx, AuditEvent{
			SchoolID:   &school,
			ActorID:    caps.UserID,
			ActorName:  caps.Name,
			Action:     action,
			EntityType: EntityStudentMark,
			EntityID:   mark.ID,
			Details:    fmt.Sprintf("deleted marks for student %s in subject %s", mark.StudentID, mark.SubjectID),
			Metadata: map[string]interface{}{
				"exam_id":     mark.ExamID.String(),
				"exam_status": string(exam.Status),
				"total":       mark.TotalScore,
			},
		})
	})
}

func (s *MarksService) DeleteMarksBulk(ctx context.Context, ids []uuid.UUID, caller authz.Caller, adminOverride bool) []ItemResult {
	results := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		res := ItemResult{ID: id.String()}
		if err := s.DeleteMark(ctx, id, caller, adminOverride); err != nil {
			res.Error = err.Error()
			res.err = err
		} else {
			res.Success = true
		}
		results = append(results, res)
	}
	return results
}

// SubmitToClassTeacher moves each row to submitted_to_class_teacher. No
// authorization or lock gate applies here; SubmitAs is the caller-checked form.
func (s *MarksService) SubmitToClassTeacher(ctx context.Context, ids []uuid.UUID) []ItemResult {
	return s.setStatus(ctx, ids, models.SubmissionToClassTeacher, nil, nil)
}

// SubmitAs submits the rows on behalf of caller. Rows owned by another
// school fail individually with ErrUnauthorized.
func (s *MarksService) SubmitAs(ctx context.Context, ids []uuid.UUID, caller authz.Caller) ([]ItemResult, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if !caps.EditMarks {
		return nil, ErrUnauthorized
	}
	return s.setStatus(ctx, ids, models.SubmissionToClassTeacher, nil, s.tenantCheck(caps)), nil
}

// Verify stamps each row as verified at the verifier's tier.
func (s *MarksService) Verify(ctx context.Context, ids []uuid.UUID, verifierID uuid.UUID, role models.EntryRole) ([]ItemResult, error) {
	return s.verify(ctx, ids, verifierID, role, nil)
}

// VerifyAs verifies at the highest tier the caller holds.
func (s *MarksService) VerifyAs(ctx context.Context, ids []uuid.UUID, caller authz.Caller) ([]ItemResult, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	switch {
	case caps.VerifyAsAdmin:
		return s.verify(ctx, ids, caps.UserID, models.RoleAdmin, s.tenantCheck(caps))
	case caps.VerifyAsClassTeacher:
		return s.verify(ctx, ids, caps.UserID, models.RoleClassTeacher, s.tenantCheck(caps))
	}
	return nil, ErrUnauthorized
}

func (s *MarksService) verify(ctx context.Context, ids []uuid.UUID, verifierID uuid.UUID, role models.EntryRole, check func(context.Context, uuid.UUID) error) ([]ItemResult, error) {
	var status models.SubmissionStatus
	switch role {
	case models.RoleClassTeacher:
		status = models.SubmissionVerifiedByClass
	case models.RoleAdmin:
		status = models.SubmissionVerifiedByAdmin
	default:
		return nil, invalidInput("role %q cannot verify marks", role)
	}
	return s.setStatus(ctx, ids, status, &verifierID, check), nil
}

// tenantCheck rejects rows that belong to a school caps cannot reach.
func (s *MarksService) tenantCheck(caps authz.Capabilities) func(context.Context, uuid.UUID) error {
	return func(ctx context.Context, id uuid.UUID) error {
		mark, err := s.store.Marks().Get(ctx, id)
		if err != nil {
			return mapNotFound(err, "mark "+id.String())
		}
		if !caps.CanAccess(mark.SchoolID) {
			return fmt.Errorf("mark %s: %w", id, ErrUnauthorized)
		}
		return nil
	}
}

func (s *MarksService) setStatus(ctx context.Context, ids []uuid.UUID, status models.SubmissionStatus, verifier *uuid.UUID, check func(context.Context, uuid.UUID) error) []ItemResult {
	results := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		res := ItemResult{ID: id.String()}
		var at *time.Time
		if verifier != nil {
			now := time.Now().UTC()
			at = &now
		}
		var err error
		if check != nil {
			err = check(ctx, id)
		}
		if err == nil {
			err = mapNotFound(s.store.Marks().SetSubmissionStatus(ctx, id, status, verifier, at), "mark "+id.String())
		}
		if err != nil {
			res.Error = err.Error()
			res.err = err
		} else {
			res.Success = true
		}
		outcome := "ok"
		if !res.Success {
			outcome = "error"
		}
		metrics.MarkWrites.WithLabelValues(string(status), outcome).Inc()
		results = append(results, res)
	}
	return results
}
