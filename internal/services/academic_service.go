package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
)

type AcademicYearInput struct {
	Name      string    `json:"name" validate:"required,max=50"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

type TermInput struct {
	AcademicYearID uuid.UUID `json:"academic_year_id" validate:"required"`
	Name           string    `json:"name" validate:"required,max=50"`
	StartDate      time.Time `json:"start_date" validate:"required"`
	EndDate        time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
}

// AcademicService manages the calendar exams hang off and the per-school
// current year and term pointer.
type AcademicService struct {
	store    repository.Store
	resolver authz.TenantResolver
}

func NewAcademicService(store repository.Store, resolver authz.TenantResolver) *AcademicService {
	if resolver == nil {
		resolver = authz.NewDirectoryResolver(store.Directory())
	}
	return &AcademicService{store: store, resolver: resolver}
}

func (s *AcademicService) admin(ctx context.Context, caller authz.Caller, schoolID uuid.UUID) (authz.Capabilities, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return caps, err
	}
	if !caps.ManageExams || !caps.CanAccess(schoolID) {
		return caps, ErrUnauthorized
	}
	return caps, nil
}

func (s *AcademicService) CreateAcademicYear(ctx context.Context, schoolID uuid.UUID, in AcademicYearInput, caller authz.Caller) (*models.AcademicYear, error) {
	if _, err := s.admin(ctx, caller, schoolID); err != nil {
		return nil, err
	}
	if err := validateStruct(&in); err != nil {
		return nil, err
	}
	year := &models.AcademicYear{
		SchoolID:  schoolID,
		Name:      strings.TrimSpace(in.Name),
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
	}
	if err := s.store.Calendar().CreateYear(ctx, year); err != nil {
		return nil, fmt.Errorf("create academic year: %w", err)
	}
	return year, nil
}

func (s *AcademicService) CreateTerm(ctx context.Context, schoolID uuid.UUID, in TermInput, caller authz.Caller) (*models.Term, error) {
	if _, err := s.admin(ctx, caller, schoolID); err != nil {
		return nil, err
	}
	if err := validateStruct(&in); err != nil {
		return nil, err
	}
	year, err := s.store.Calendar().GetYear(ctx, in.AcademicYearID)
	if err != nil {
		return nil, mapNotFound(err, "academic year "+in.AcademicYearID.String())
	}
	if year.SchoolID != schoolID {
		return nil, ErrUnauthorized
	}
	if in.StartDate.Before(year.StartDate) || in.EndDate.After(year.EndDate) {
		return nil, invalidInput("term must fall within %s", year.Name)
	}
	term := &models.Term{
		SchoolID:       schoolID,
		AcademicYearID: year.ID,
		Name:           strings.TrimSpace(in.Name),
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
	}
	if err := s.store.Calendar().CreateTerm(ctx, term); err != nil {
		return nil, fmt.Errorf("create term: %w", err)
	}
	return term, nil
}

// SetCurrentYear points the school at yearID. The term pointer is left alone.
func (s *AcademicService) SetCurrentYear(ctx context.Context, yearID uuid.UUID, caller authz.Caller) (*models.TenantCalendar, error) {
	year, err := s.store.Calendar().GetYear(ctx, yearID)
	if err != nil {
		return nil, mapNotFound(err, "academic year "+yearID.String())
	}
	if _, err := s.admin(ctx, caller, year.SchoolID); err != nil {
		return nil, err
	}
	if err := s.store.Calendar().SetCurrent(ctx, year.SchoolID, &year.ID, nil); err != nil {
		return nil, err
	}
	return s.store.Calendar().GetCalendar(ctx, year.SchoolID)
}

// SetCurrentTerm points the school at termID and at the year that owns it,
// in a single write.
func (s *AcademicService) SetCurrentTerm(ctx context.Context, termID uuid.UUID, caller authz.Caller) (*models.TenantCalendar, error) {
	term, err := s.store.Calendar().GetTerm(ctx, termID)
	if err != nil {
		return nil, mapNotFound(err, "term "+termID.String())
	}
	if _, err := s.admin(ctx, caller, term.SchoolID); err != nil {
		return nil, err
	}
	if err := s.store.Calendar().SetCurrent(ctx, term.SchoolID, &term.AcademicYearID, &term.ID); err != nil {
		return nil, err
	}
	return s.store.Calendar().GetCalendar(ctx, term.SchoolID)
}

func (s *AcademicService) GetCalendar(ctx context.Context, schoolID uuid.UUID, caller authz.Caller) (*models.TenantCalendar, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	if !caps.CanAccess(schoolID) {
		return nil, ErrUnauthorized
	}
	cal, err := s.store.Calendar().GetCalendar(ctx, schoolID)
	if err != nil {
		return nil, mapNotFound(err, "calendar for school "+schoolID.String())
	}
	return cal, nil
}

// DeleteAcademicYear refuses while terms or exams still reference the year.
func (s *AcademicService) DeleteAcademicYear(ctx context.Context, yearID uuid.UUID, caller authz.Caller) error {
	year, err := s.store.Calendar().GetYear(ctx, yearID)
	if err != nil {
		return mapNotFound(err, "academic year "+yearID.String())
	}
	if _, err := s.admin(ctx, caller, year.SchoolID); err != nil {
		return err
	}

	return s.store.Transaction(ctx, func(tx repository.Store) error {
		terms, err := tx.Calendar().CountTermsByYear(ctx, year.ID)
		if err != nil {
			return err
		}
		exams, err := tx.Exams().CountByAcademicYear(ctx, year.ID)
		if err != nil {
			return err
		}
		if terms > 0 || exams > 0 {
			return fmt.Errorf("academic year %s has %d terms and %d exams: %w", year.Name, terms, exams, ErrDependentDataExists)
		}
		return tx.Calendar().DeleteYear(ctx, year.ID)
	})
}
