package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base model with UUID
type BaseModel struct {
	ID        uuid.UUID      `gorm:"type:char(36);primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// School is the tenant every exam, mark and user belongs to
type School struct {
	BaseModel
	Name         string            `gorm:"type:varchar(255);not null" json:"name"`
	Type         string            `gorm:"type:varchar(20);not null" json:"type"`
	Address      string            `gorm:"type:text" json:"address"`
	Country      string            `gorm:"type:varchar(100);default:'Uganda'" json:"country"`
	ContactEmail string            `gorm:"type:varchar(255)" json:"contact_email"`
	Phone        string            `gorm:"type:varchar(50)" json:"phone"`
	Motto        string            `gorm:"type:varchar(255)" json:"motto"`
	Config       datatypes.JSONMap `gorm:"type:json" json:"config"`
}

// User represents system users (admin/teacher)
type User struct {
	BaseModel
	SchoolID     *uuid.UUID        `gorm:"type:char(36);index" json:"school_id"`
	Email        string            `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string            `gorm:"type:varchar(255);not null" json:"-"`
	Role         string            `gorm:"type:varchar(20);not null" json:"role"`
	FullName     string            `gorm:"type:varchar(255);not null" json:"full_name"`
	IsActive     bool              `gorm:"default:true" json:"is_active"`
	Meta         datatypes.JSONMap `gorm:"type:json" json:"meta"`
	School       *School           `gorm:"foreignKey:SchoolID" json:"school,omitempty"`
}

// Class represents a class/stream students are enrolled in
type Class struct {
	BaseModel
	SchoolID  uuid.UUID  `gorm:"type:char(36);not null;index" json:"school_id"`
	Name      string     `gorm:"type:varchar(100);not null" json:"name"`
	Level     string     `gorm:"type:varchar(50);not null" json:"level"`
	TeacherID *uuid.UUID `gorm:"type:char(36);index" json:"teacher_id"`
}

// Student represents a student
type Student struct {
	BaseModel
	SchoolID    uuid.UUID `gorm:"type:char(36);not null;index" json:"school_id"`
	AdmissionNo string    `gorm:"type:varchar(50);not null" json:"admission_no"`
	FirstName   string    `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName    string    `gorm:"type:varchar(100);not null" json:"last_name"`
}

// Enrollment links students to classes
type Enrollment struct {
	BaseModel
	StudentID  uuid.UUID `gorm:"type:char(36);not null;index:idx_enrollment_student_class" json:"student_id"`
	ClassID    uuid.UUID `gorm:"type:char(36);not null;index:idx_enrollment_student_class" json:"class_id"`
	Status     string    `gorm:"type:varchar(20);default:'active'" json:"status"`
	EnrolledOn time.Time `gorm:"type:date" json:"enrolled_on"`
}

// AcademicYear groups terms and exams
type AcademicYear struct {
	BaseModel
	SchoolID  uuid.UUID `gorm:"type:char(36);not null;index" json:"school_id"`
	Name      string    `gorm:"type:varchar(50);not null" json:"name"`
	StartDate time.Time `gorm:"type:date" json:"start_date"`
	EndDate   time.Time `gorm:"type:date" json:"end_date"`
}

type Term struct {
	BaseModel
	SchoolID       uuid.UUID `gorm:"type:char(36);not null;index" json:"school_id"`
	AcademicYearID uuid.UUID `gorm:"type:char(36);not null;index" json:"academic_year_id"`
	Name           string    `gorm:"type:varchar(50);not null" json:"name"`
	StartDate      time.Time `gorm:"type:date" json:"start_date"`
	EndDate        time.Time `gorm:"type:date" json:"end_date"`
}

// TenantCalendar is the single per-school pointer to the current year and term.
type TenantCalendar struct {
	SchoolID      uuid.UUID  `gorm:"type:char(36);primaryKey" json:"school_id"`
	CurrentYearID *uuid.UUID `gorm:"type:char(36)" json:"current_year_id"`
	CurrentTermID *uuid.UUID `gorm:"type:char(36)" json:"current_term_id"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type ExamType string

const (
	ExamTypeMidTerm    ExamType = "mid_term"
	ExamTypeEndOfTerm  ExamType = "end_of_term"
	ExamTypeMock       ExamType = "mock"
	ExamTypeQuiz       ExamType = "quiz"
	ExamTypeAssessment ExamType = "assessment"
	ExamTypeFinal      ExamType = "final"
)

func (t ExamType) Valid() bool {
	switch t {
	case ExamTypeMidTerm, ExamTypeEndOfTerm, ExamTypeMock, ExamTypeQuiz, ExamTypeAssessment, ExamTypeFinal:
		return true
	}
	return false
}

// ExamStatus is ordered: draft < scheduled < ongoing < completed < published.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "draft"
	ExamStatusScheduled ExamStatus = "scheduled"
	ExamStatusOngoing   ExamStatus = "ongoing"
	ExamStatusCompleted ExamStatus = "completed"
	ExamStatusPublished ExamStatus = "published"
)

var examStatusOrder = map[ExamStatus]int{
	ExamStatusDraft:     0,
	ExamStatusScheduled: 1,
	ExamStatusOngoing:   2,
	ExamStatusCompleted: 3,
	ExamStatusPublished: 4,
}

// Rank returns the position of s in the lifecycle, or -1 if unknown.
func (s ExamStatus) Rank() int {
	if r, ok := examStatusOrder[s]; ok {
		return r
	}
	return -1
}

// Closed reports whether marks for the exam are behind the lifecycle gate.
func (s ExamStatus) Closed() bool {
	return s == ExamStatusCompleted || s == ExamStatusPublished
}

// Exam is a scheduled sitting with its own scoring contract
type Exam struct {
	BaseModel
	SchoolID       uuid.UUID                   `gorm:"type:char(36);not null;index" json:"school_id"`
	Code           string                      `gorm:"type:varchar(40);not null;index" json:"code"`
	Name           string                      `gorm:"type:varchar(255);not null" json:"name"`
	Type           ExamType                    `gorm:"type:varchar(20);not null" json:"type"`
	StartDate      time.Time                   `gorm:"type:date" json:"start_date"`
	EndDate        time.Time                   `gorm:"type:date" json:"end_date"`
	AcademicYearID *uuid.UUID                  `gorm:"type:char(36);index" json:"academic_year_id,omitempty"`
	TermID         *uuid.UUID                  `gorm:"type:char(36);index" json:"term_id,omitempty"`
	DepartmentID   *uuid.UUID                  `gorm:"type:char(36)" json:"department_id,omitempty"`
	ClassIDs       datatypes.JSONSlice[string] `gorm:"type:json" json:"class_ids"`
	TotalMarks     float64                     `gorm:"type:decimal(7,2)" json:"total_marks"`
	Weightage      float64                     `gorm:"type:decimal(5,2)" json:"weightage"`
	Status         ExamStatus                  `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	Unlocked       bool                        `gorm:"default:false" json:"unlocked"`
	UnlockedBy     *uuid.UUID                  `gorm:"type:char(36)" json:"unlocked_by,omitempty"`
	UnlockedByName string                      `gorm:"type:varchar(255)" json:"unlocked_by_name,omitempty"`
	UnlockedAt     *time.Time                  `json:"unlocked_at,omitempty"`
	UnlockReason   string                      `gorm:"type:text" json:"unlock_reason,omitempty"`
	LockedAt       *time.Time                  `json:"locked_at,omitempty"`
	PublishedBy    *uuid.UUID                  `gorm:"type:char(36)" json:"published_by,omitempty"`
	PublishedAt    *time.Time                  `json:"published_at,omitempty"`
	CreatedBy      uuid.UUID                   `gorm:"type:char(36);not null" json:"created_by"`
	Subjects       []ExamSubject               `gorm:"foreignKey:ExamID;constraint:OnDelete:CASCADE" json:"subjects"`
}

// Locked reports whether marks may only be written with an explicit override.
func (e *Exam) Locked() bool {
	return e.Status.Closed() && !e.Unlocked
}

// Subject returns the scoring contract for subjectID, if the exam defines one.
func (e *Exam) Subject(subjectID uuid.UUID) (ExamSubject, bool) {
	for _, s := range e.Subjects {
		if s.SubjectID == subjectID {
			return s, true
		}
	}
	return ExamSubject{}, false
}

// ExamSubject is one subject of an exam and the most it can score
type ExamSubject struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey" json:"-"`
	ExamID    uuid.UUID `gorm:"type:char(36);not null;uniqueIndex:idx_exam_subject" json:"-"`
	SubjectID uuid.UUID `gorm:"type:char(36);not null;uniqueIndex:idx_exam_subject" json:"subject_id" validate:"required"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name" validate:"required,max=255"`
	MaxMarks  float64   `gorm:"type:decimal(7,2);not null" json:"max_marks" validate:"gt=0"`
}

func (s *ExamSubject) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

type EntryRole string

const (
	RoleSubjectTeacher EntryRole = "subject_teacher"
	RoleClassTeacher   EntryRole = "class_teacher"
	RoleAdmin          EntryRole = "admin"
)

type SubmissionStatus string

const (
	SubmissionDraft           SubmissionStatus = "draft"
	SubmissionToClassTeacher  SubmissionStatus = "submitted_to_class_teacher"
	SubmissionVerifiedByClass SubmissionStatus = "verified_by_class_teacher"
	SubmissionVerifiedByAdmin SubmissionStatus = "verified_by_admin"
)

// StudentMark is one ledger row: (exam, student, subject) is its natural key.
type StudentMark struct {
	BaseModel
	SchoolID         uuid.UUID        `gorm:"type:char(36);not null;index" json:"school_id"`
	ExamID           uuid.UUID        `gorm:"type:char(36);not null;uniqueIndex:idx_mark_natural_key" json:"exam_id"`
	StudentID        uuid.UUID        `gorm:"type:char(36);not null;uniqueIndex:idx_mark_natural_key" json:"student_id"`
	SubjectID        uuid.UUID        `gorm:"type:char(36);not null;uniqueIndex:idx_mark_natural_key" json:"subject_id"`
	ClassID          *uuid.UUID       `gorm:"type:char(36);index" json:"class_id,omitempty"`
	ClassScore       float64          `gorm:"type:decimal(7,2);not null" json:"class_score"`
	ExamScore        float64          `gorm:"type:decimal(7,2);not null" json:"exam_score"`
	MaxMarks         float64          `gorm:"type:decimal(7,2);not null" json:"max_marks"`
	TotalScore       float64          `gorm:"type:decimal(7,2);not null" json:"total_score"`
	Percentage       float64          `gorm:"type:decimal(6,2);not null" json:"percentage"`
	Grade            string           `gorm:"type:varchar(4)" json:"grade"`
	GradeNumber      int              `gorm:"type:smallint" json:"grade_number"`
	Remarks          string           `gorm:"type:varchar(50)" json:"remarks"`
	Position         *int             `json:"position,omitempty"`
	IsAbsent         bool             `gorm:"default:false" json:"is_absent"`
	EnteredBy        uuid.UUID        `gorm:"type:char(36);not null" json:"entered_by"`
	EnteredByName    string           `gorm:"type:varchar(255)" json:"entered_by_name"`
	EnteredByRole    EntryRole        `gorm:"type:varchar(20);not null" json:"entered_by_role"`
	CorrectionReason string           `gorm:"type:text" json:"correction_reason,omitempty"`
	SubmissionStatus SubmissionStatus `gorm:"type:varchar(32);not null;default:'draft'" json:"submission_status"`
	VerifiedBy       *uuid.UUID       `gorm:"type:char(36)" json:"verified_by,omitempty"`
	VerifiedAt       *time.Time       `json:"verified_at,omitempty"`
}

// AuditLogEntry is append-only; nothing in this service updates or deletes it.
type AuditLogEntry struct {
	ID         uuid.UUID         `gorm:"type:char(36);primaryKey" json:"id"`
	SchoolID   *uuid.UUID        `gorm:"type:char(36);index" json:"school_id,omitempty"`
	Timestamp  time.Time         `gorm:"index" json:"timestamp"`
	ActorID    uuid.UUID         `gorm:"type:char(36);index" json:"actor_id"`
	ActorName  string            `gorm:"type:varchar(255)" json:"actor_name"`
	Action     string            `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType string            `gorm:"type:varchar(50);not null;index:idx_audit_entity" json:"entity_type"`
	EntityID   uuid.UUID         `gorm:"type:char(36);index:idx_audit_entity" json:"entity_id"`
	Details    string            `gorm:"type:text" json:"details"`
	Origin     string            `gorm:"type:varchar(50)" json:"origin"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
}

func (a *AuditLogEntry) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "failed"
)

// AuditOutbox holds audit entries written alongside the primary change and
// delivered to the audit log afterwards.
type AuditOutbox struct {
	ID          uuid.UUID         `gorm:"type:char(36);primaryKey" json:"id"`
	Payload     datatypes.JSONMap `gorm:"type:json;not null" json:"payload"`
	Status      OutboxStatus      `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Attempts    int               `gorm:"default:0" json:"attempts"`
	LastError   string            `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
}

func (o *AuditOutbox) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// RefreshToken stores refresh tokens for revocation
type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:char(36);not null;index" json:"user_id"`
	Token     string    `gorm:"type:varchar(500);uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	Revoked   bool      `gorm:"default:false;index" json:"revoked"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (r *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
