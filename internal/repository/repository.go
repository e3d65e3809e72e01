// Package repository declares the storage contracts the exam services run
// against. gormrepo backs them with a SQL database; memrepo keeps everything
// in process for tests and demos.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/models"
)

var ErrNotFound = errors.New("record not found")

type ExamFilter struct {
	SchoolID       *uuid.UUID
	Status         models.ExamStatus
	Type           models.ExamType
	AcademicYearID *uuid.UUID
	TermID         *uuid.UUID
}

type MarkFilter struct {
	SubjectID *uuid.UUID
	ClassID   *uuid.UUID
	StudentID *uuid.UUID
}

type AuditFilter struct {
	SchoolID   *uuid.UUID
	EntityType string
	EntityID   *uuid.UUID
	Action     string
	Limit      int
}

type Exams interface {
	Create(ctx context.Context, exam *models.Exam) error
	// Get loads the exam with its subjects.
	Get(ctx context.Context, id uuid.UUID) (*models.Exam, error)
	List(ctx context.Context, filter ExamFilter) ([]models.Exam, error)
	// Update saves the exam's own columns; subjects are left untouched.
	Update(ctx context.Context, exam *models.Exam) error
	ReplaceSubjects(ctx context.Context, examID uuid.UUID, subjects []models.ExamSubject) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountByAcademicYear(ctx context.Context, yearID uuid.UUID) (int64, error)
}

type Marks interface {
	Get(ctx context.Context, id uuid.UUID) (*models.StudentMark, error)
	FindByKey(ctx context.Context, examID, studentID, subjectID uuid.UUID) (*models.StudentMark, error)
	// Create inserts a new row. A concurrent insert for the same natural key
	// resolves last-write-wins onto the existing row.
	Create(ctx context.Context, mark *models.StudentMark) error
	Update(ctx context.Context, mark *models.StudentMark) error
	List(ctx context.Context, examID uuid.UUID, filter MarkFilter) ([]models.StudentMark, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByExam(ctx context.Context, examID uuid.UUID) (int64, error)
	// SetPositions writes each row's position; a nil value clears it.
	SetPositions(ctx context.Context, positions map[uuid.UUID]*int) error
	SetSubmissionStatus(ctx context.Context, id uuid.UUID, status models.SubmissionStatus, verifier *uuid.UUID, at *time.Time) error
}

type Outbox interface {
	Enqueue(ctx context.Context, item *models.AuditOutbox) error
	Pending(ctx context.Context, limit int) ([]models.AuditOutbox, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailedAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string, status models.OutboxStatus) error
	CountByStatus(ctx context.Context, status models.OutboxStatus) (int64, error)
}

type AuditLog interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	List(ctx context.Context, filter AuditFilter) ([]models.AuditLogEntry, error)
}

// Directory is the read side of the identity and enrollment records owned by
// the rest of the platform.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetStudent(ctx context.Context, id uuid.UUID) (*models.Student, error)
	// CurrentClass returns the class of the student's latest active enrollment.
	CurrentClass(ctx context.Context, studentID uuid.UUID) (*uuid.UUID, error)
}

type Calendar interface {
	CreateYear(ctx context.Context, year *models.AcademicYear) error
	GetYear(ctx context.Context, id uuid.UUID) (*models.AcademicYear, error)
	DeleteYear(ctx context.Context, id uuid.UUID) error
	CreateTerm(ctx context.Context, term *models.Term) error
	GetTerm(ctx context.Context, id uuid.UUID) (*models.Term, error)
	CountTermsByYear(ctx context.Context, yearID uuid.UUID) (int64, error)
	// SetCurrent updates the school's pointer record in one write; nil fields
	// keep their stored value.
	SetCurrent(ctx context.Context, schoolID uuid.UUID, yearID, termID *uuid.UUID) error
	GetCalendar(ctx context.Context, schoolID uuid.UUID) (*models.TenantCalendar, error)
}

// Store groups the repositories. Transaction runs fn against a Store whose
// writes commit together or not at all.
type Store interface {
	Exams() Exams
	Marks() Marks
	Outbox() Outbox
	AuditLog() AuditLog
	Directory() Directory
	Calendar() Calendar
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
