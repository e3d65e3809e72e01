package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
	"github.com/school-system/exams/internal/repository/memrepo"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ctx       context.Context
	store     *memrepo.Store
	audit     *AuditService
	relay     *AuditRelay
	exams     *ExamService
	marks     *MarksService
	ranking   *RankingService
	analytics *AnalyticsService
	academic  *AcademicService

	school   uuid.UUID
	classID  uuid.UUID
	admin    authz.Caller
	teacher  authz.Caller
	class    authz.Caller
	outsider authz.Caller
	mathID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	audit := NewAuditService(store, "test", nil)
	f := &fixture{
		ctx:       context.Background(),
		store:     store,
		audit:     audit,
		relay:     NewAuditRelay(store, nil, 50, 3),
		exams:     NewExamService(store, audit, nil),
		marks:     NewMarksService(store, audit, nil),
		ranking:   NewRankingService(store, nil),
		analytics: NewAnalyticsService(store, nil),
		academic:  NewAcademicService(store, nil),
		school:    uuid.New(),
		classID:   uuid.New(),
		mathID:    uuid.New(),
	}

	other := uuid.New()
	f.admin = f.user(models.User{SchoolID: &f.school, Role: "school_admin", FullName: "Grace Admin"})
	f.teacher = f.user(models.User{SchoolID: &f.school, Role: "teacher", FullName: "Tom Teacher"})
	f.class = f.user(models.User{SchoolID: &f.school, Role: "class_teacher", FullName: "Cathy Class"})
	f.outsider = f.user(models.User{SchoolID: &other, Role: "school_admin", FullName: "Other Admin"})
	return f
}

func (f *fixture) user(u models.User) authz.Caller {
	u.IsActive = true
	u = f.store.AddUser(u)
	return authz.Caller{UserID: u.ID, Name: u.FullName, Role: u.Role}
}

func (f *fixture) addStudent(t *testing.T) uuid.UUID {
	t.Helper()
	st := f.store.AddStudent(models.Student{SchoolID: f.school, FirstName: "Student", LastName: uuid.NewString()[:4]}, &f.classID)
	return st.ID
}

// newExam creates a one-subject exam (math, out of 100) and moves it to status.
func (f *fixture) newExam(t *testing.T, status models.ExamStatus) *models.Exam {
	t.Helper()
	exam, err := f.exams.CreateExam(f.ctx, f.school, ExamDefinition{
		Name:      "Mid Term One",
		Type:      models.ExamTypeMidTerm,
		StartDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		Subjects:  []models.ExamSubject{{SubjectID: f.mathID, Name: "Mathematics", MaxMarks: 100}},
	}, f.admin)
	require.NoError(t, err)
	if status != models.ExamStatusDraft {
		exam, err = f.exams.UpdateExam(f.ctx, exam.ID, ExamUpdate{Status: &status}, f.admin, false)
		require.NoError(t, err)
	}
	return exam
}

func (f *fixture) enter(t *testing.T, examID, studentID uuid.UUID, classScore, examScore float64) *models.StudentMark {
	t.Helper()
	mark, err := f.marks.EnterMark(f.ctx, MarkEntry{
		ExamID:     examID,
		StudentID:  studentID,
		SubjectID:  f.mathID,
		ClassScore: classScore,
		ExamScore:  examScore,
	}, f.teacher, false)
	require.NoError(t, err)
	return mark
}

// auditEntries flushes the outbox and returns the delivered entries for action.
func (f *fixture) auditEntries(t *testing.T, action string) []models.AuditLogEntry {
	t.Helper()
	_, err := f.relay.Flush(f.ctx)
	require.NoError(t, err)
	entries, err := f.store.AuditLog().List(f.ctx, repository.AuditFilter{Action: action})
	require.NoError(t, err)
	return entries
}
