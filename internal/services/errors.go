package services

import (
	"errors"
	"fmt"

	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/repository"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = authz.ErrUnauthorized
	ErrLockedExam           = errors.New("exam is locked: unlock the exam before making changes")
	ErrTeacherEditForbidden = errors.New("marks for a completed or published exam can only be changed by an administrator")
	ErrInvalidTransition    = errors.New("invalid exam status transition")
	ErrInvalidInput         = errors.New("invalid input")
	ErrDependentDataExists  = errors.New("dependent data exists")
)

// ItemResult reports the outcome of one item of a bulk operation.
type ItemResult struct {
	ID        string `json:"id,omitempty"`
	StudentID string `json:"student_id,omitempty"`
	SubjectID string `json:"subject_id,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	err       error
}

// Err returns the underlying error of a failed item.
func (r ItemResult) Err() error {
	return r.err
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

// mapNotFound rewrites a repository miss into the service taxonomy.
func mapNotFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
