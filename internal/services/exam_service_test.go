package services

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateExamCode(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		typ    models.ExamType
		prefix string
	}{
		{models.ExamTypeMidTerm, "MT"},
		{models.ExamTypeEndOfTerm, "ET"},
		{models.ExamTypeMock, "MK"},
		{models.ExamTypeFinal, "FN"},
		{"unknown", "EX"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			code := GenerateExamCode(tt.typ, now)
			assert.Regexp(t, regexp.MustCompile(`^`+tt.prefix+`-2026-[0-9A-F]{6}$`), code)
		})
	}
}

func TestCreateExam(t *testing.T) {
	f := newFixture(t)
	english := uuid.New()

	exam, err := f.exams.CreateExam(f.ctx, f.school, ExamDefinition{
		Name:         "End of Term",
		Type:         models.ExamTypeEndOfTerm,
		SubjectsBlob: `[{"subjectId":"` + f.mathID.String() + `","name":"Mathematics","maxMarks":100},{"subjectId":"` + english.String() + `","name":"English","maxMarks":"50"}]`,
	}, f.admin)
	require.NoError(t, err)

	assert.Equal(t, models.ExamStatusDraft, exam.Status)
	assert.Equal(t, f.school, exam.SchoolID)
	assert.Equal(t, f.admin.UserID, exam.CreatedBy)
	assert.Equal(t, 150.0, exam.TotalMarks)
	require.Len(t, exam.Subjects, 2)

	got, err := f.exams.GetExam(f.ctx, exam.ID, f.teacher)
	require.NoError(t, err)
	sub, ok := got.Subject(english)
	require.True(t, ok)
	assert.Equal(t, 50.0, sub.MaxMarks)

	list, err := f.exams.ListExams(f.ctx, repository.ExamFilter{}, f.teacher)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateExam_Rejects(t *testing.T) {
	f := newFixture(t)
	valid := ExamDefinition{Name: "Quiz", Type: models.ExamTypeQuiz}

	_, err := f.exams.CreateExam(f.ctx, f.school, valid, f.teacher)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.exams.CreateExam(f.ctx, f.school, valid, f.outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)

	bad := []ExamDefinition{
		{Type: models.ExamTypeQuiz},
		{Name: "Quiz", Type: "oral"},
		{Name: "Quiz", Type: models.ExamTypeQuiz, SubjectsBlob: `not json`},
		{Name: "Quiz", Type: models.ExamTypeQuiz, SubjectsBlob: `[{"subjectId":"` + uuid.NewString() + `","name":"Art","maxMarks":"lots"}]`},
		{Name: "Quiz", Type: models.ExamTypeQuiz, Subjects: []models.ExamSubject{{SubjectID: f.mathID, Name: "Maths", MaxMarks: 0}}},
		{Name: "Quiz", Type: models.ExamTypeQuiz, Subjects: []models.ExamSubject{
			{SubjectID: f.mathID, Name: "Maths", MaxMarks: 10},
			{SubjectID: f.mathID, Name: "Maths again", MaxMarks: 10},
		}},
	}
	for i, def := range bad {
		_, err := f.exams.CreateExam(f.ctx, f.school, def, f.admin)
		assert.ErrorIs(t, err, ErrInvalidInput, "case %d", i)
	}
}

func TestUpdateExam_StatusMovesForward(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusOngoing)

	scheduled := models.ExamStatusScheduled
	_, err := f.exams.UpdateExam(f.ctx, exam.ID, ExamUpdate{Status: &scheduled}, f.admin, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	bogus := models.ExamStatus("archived")
	_, err = f.exams.UpdateExam(f.ctx, exam.ID, ExamUpdate{Status: &bogus}, f.admin, false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	name := "Mid Term One (revised)"
	updated, err := f.exams.UpdateExam(f.ctx, exam.ID, ExamUpdate{Name: &name}, f.admin, false)
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, models.ExamStatusOngoing, updated.Status)
	assert.Len(t, updated.Subjects, 1, "subjects survive an update that does not name them")

	_, err = f.exams.UpdateExam(f.ctx, exam.ID, ExamUpdate{Name: &name}, f.teacher, false)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpdateExam_PublishedIsLocked(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusPublished)
	assert.NotNil(t, exam.PublishedAt)
	assert.Len(t, f.auditEntries(t, ActionPublishExam), 1)

	name := "Renamed"
	_, err := f.exams.UpdateExam(f.ctx, exam.ID, ExamUpdate{Name: &name}, f.admin, false)
	assert.ErrorIs(t, err, ErrLockedExam)

	updated, err := f.exams.UpdateExam(f.ctx, exam.ID, ExamUpdate{Name: &name}, f.admin, true)
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Len(t, f.auditEntries(t, ActionUpdateLockedExam), 1)
}

func TestUpdateExam_ReplacesSubjects(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusDraft)
	physics := uuid.New()

	subjects := []models.ExamSubject{
		{SubjectID: f.mathID, Name: "Mathematics", MaxMarks: 80},
		{SubjectID: physics, Name: "Physics", MaxMarks: 60},
	}
	updated, err := f.exams.UpdateExam(f.ctx, exam.ID, ExamUpdate{Subjects: &subjects}, f.admin, false)
	require.NoError(t, err)
	require.Len(t, updated.Subjects, 2)
	sub, ok := updated.Subject(f.mathID)
	require.True(t, ok)
	assert.Equal(t, 80.0, sub.MaxMarks)
}

func TestPublishExam(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusCompleted)

	_, err := f.exams.PublishExam(f.ctx, exam.ID, f.teacher)
	assert.ErrorIs(t, err, ErrUnauthorized)

	published, err := f.exams.PublishExam(f.ctx, exam.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.ExamStatusPublished, published.Status)
	require.NotNil(t, published.PublishedBy)
	assert.Equal(t, f.admin.UserID, *published.PublishedBy)

	_, err = f.exams.PublishExam(f.ctx, exam.ID, f.admin)
	require.NoError(t, err)
	assert.Len(t, f.auditEntries(t, ActionPublishExam), 1, "publishing twice is a no-op")
}

func TestUnlockExam(t *testing.T) {
	f := newFixture(t)

	t.Run("draft exam cannot be unlocked", func(t *testing.T) {
		exam := f.newExam(t, models.ExamStatusDraft)
		_, err := f.exams.UnlockExam(f.ctx, exam.ID, f.admin, "typo")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("completed exam", func(t *testing.T) {
		exam := f.newExam(t, models.ExamStatusCompleted)

		_, err := f.exams.UnlockExam(f.ctx, exam.ID, f.teacher, "typo")
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = f.exams.UnlockExam(f.ctx, exam.ID, f.admin, "  ")
		assert.ErrorIs(t, err, ErrInvalidInput)

		unlocked, err := f.exams.UnlockExam(f.ctx, exam.ID, f.admin, "missing scripts")
		require.NoError(t, err)
		assert.True(t, unlocked.Unlocked)
		assert.Equal(t, "Grace Admin", unlocked.UnlockedByName)
		assert.Equal(t, "missing scripts", unlocked.UnlockReason)
		require.NotNil(t, unlocked.UnlockedAt)

		entries := f.auditEntries(t, ActionUnlockExam)
		require.Len(t, entries, 1)
		assert.Equal(t, exam.ID, entries[0].EntityID)
		assert.Equal(t, "missing scripts", entries[0].Details)
	})
}

func TestLockExam(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusCompleted)

	_, err := f.exams.UnlockExam(f.ctx, exam.ID, f.admin, "fix")
	require.NoError(t, err)
	locked, err := f.exams.LockExam(f.ctx, exam.ID, f.admin)
	require.NoError(t, err)
	assert.False(t, locked.Unlocked)
	assert.NotNil(t, locked.LockedAt)
	assert.True(t, locked.Locked())
	assert.Len(t, f.auditEntries(t, ActionLockExam), 1)

	open := f.newExam(t, models.ExamStatusOngoing)
	_, err = f.exams.LockExam(f.ctx, open.ID, f.admin)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeleteExam_Cascades(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusOngoing)
	keep := f.newExam(t, models.ExamStatusOngoing)
	for i := 0; i < 3; i++ {
		f.enter(t, exam.ID, f.addStudent(t), 10, 20)
	}
	f.enter(t, keep.ID, f.addStudent(t), 10, 20)

	_, err := f.exams.DeleteExam(f.ctx, exam.ID, f.outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)

	removed, err := f.exams.DeleteExam(f.ctx, exam.ID, f.admin)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	_, err = f.exams.GetExam(f.ctx, exam.ID, f.admin)
	assert.ErrorIs(t, err, ErrNotFound)
	marks, err := f.store.Marks().List(f.ctx, exam.ID, repository.MarkFilter{})
	require.NoError(t, err)
	assert.Empty(t, marks)

	kept, err := f.store.Marks().List(f.ctx, keep.ID, repository.MarkFilter{})
	require.NoError(t, err)
	assert.Len(t, kept, 1)
	assert.Len(t, f.auditEntries(t, ActionDeleteExam), 1)
}

func TestParseSubjectsBlob(t *testing.T) {
	id := uuid.New()
	subjects, err := ParseSubjectsBlob(`[{"subjectId":"` + id.String() + `","name":"Biology","maxMarks":" 75 "}]`)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, id, subjects[0].SubjectID)
	assert.Equal(t, 75.0, subjects[0].MaxMarks)

	empty, err := ParseSubjectsBlob("  ")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseSubjectsBlob(`[{"subjectId":"nope","name":"Biology","maxMarks":10}]`)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestExamLifecycle_OtherSchool(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusCompleted)
	name := "Renamed"
	published := models.ExamStatusPublished

	_, err := f.exams.UpdateExam(f.ctx, exam.ID, ExamUpdate{Name: &name, Status: &published}, f.outsider, true)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.exams.PublishExam(f.ctx, exam.ID, f.outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.exams.UnlockExam(f.ctx, exam.ID, f.outsider, "moderation")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.exams.LockExam(f.ctx, exam.ID, f.outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.exams.GetExam(f.ctx, exam.ID, f.outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)

	stored, err := f.exams.GetExam(f.ctx, exam.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, "Mid Term One", stored.Name)
	assert.Equal(t, models.ExamStatusCompleted, stored.Status)
	assert.False(t, stored.Unlocked)
	assert.Nil(t, stored.PublishedAt)

	for _, action := range []string{ActionPublishExam, ActionUnlockExam, ActionLockExam, ActionUpdateLockedExam} {
		assert.Empty(t, f.auditEntries(t, action), action)
	}
}
