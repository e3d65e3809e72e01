package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExamAnalytics_PassRate(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusOngoing)

	for _, score := range []float64{90, 75, 60, 45, 40, 39, 20, 5} {
		f.enter(t, exam.ID, f.addStudent(t), 0, score)
	}
	for i := 0; i < 2; i++ {
		_, err := f.marks.EnterMark(f.ctx, MarkEntry{ExamID: exam.ID, StudentID: f.addStudent(t), SubjectID: f.mathID, IsAbsent: true}, f.teacher, false)
		require.NoError(t, err)
	}

	report, err := f.analytics.ExamAnalytics(f.ctx, exam.ID, f.teacher)
	require.NoError(t, err)

	assert.Equal(t, 10, report.Overall.UniqueStudents)
	assert.Equal(t, 10, report.Overall.TotalEntries)
	assert.Equal(t, 5, report.Overall.Passed)
	assert.Equal(t, 3, report.Overall.Failed)
	assert.Equal(t, 2, report.Overall.Absent)
	assert.InDelta(t, 5.0/8.0*100, report.Overall.PassRate, 1e-9)

	require.Len(t, report.Subjects, 1)
	math := report.Subjects[0]
	assert.Equal(t, "Mathematics", math.Name)
	assert.Equal(t, 8, math.StudentCount)
	assert.Equal(t, 2, math.Absent)
	assert.Equal(t, 90.0, math.Highest)
	assert.Equal(t, 5.0, math.Lowest)
	assert.InDelta(t, 374.0/800.0*100, math.AveragePercentage, 1e-9)

	var distributed int
	for _, g := range report.GradeDistribution {
		distributed += g.Count
	}
	assert.Equal(t, 8, distributed)
	assert.Equal(t, 1, report.GradeDistribution[0].GradeNumber)

	require.Len(t, report.TopStudents, 8)
	assert.Equal(t, 90.0, report.TopStudents[0].Percentage)
	assert.Equal(t, 1, report.TopStudents[0].Position)

	require.Len(t, report.Classes, 1)
	assert.Equal(t, 10, report.Classes[0].UniqueStudents)
	assert.InDelta(t, 374.0/8, report.Classes[0].AveragePercentage, 1e-9)
	assert.Equal(t, 90.0, report.Classes[0].TopScore)
}

func TestComputeAnalytics_Limits(t *testing.T) {
	exam := &models.Exam{BaseModel: models.BaseModel{ID: uuid.New()}}
	subject := uuid.New()
	var marks []models.StudentMark
	for c := 0; c < 7; c++ {
		class := uuid.New()
		for s := 0; s < 3; s++ {
			pct := float64(c*10 + s)
			marks = append(marks, models.StudentMark{
				StudentID: uuid.New(), SubjectID: subject, ClassID: &class,
				TotalScore: pct, MaxMarks: 100, Percentage: pct,
			})
		}
	}

	report := ComputeAnalytics(exam, marks)
	assert.Len(t, report.TopStudents, 10)
	assert.Len(t, report.Classes, 7)
	require.Len(t, report.TopClasses, 5)
	assert.InDelta(t, 61.0, report.TopClasses[0].AveragePercentage, 1e-9)
	for i := 1; i < len(report.TopStudents); i++ {
		assert.GreaterOrEqual(t, report.TopStudents[i-1].Percentage, report.TopStudents[i].Percentage)
	}
}

func TestComputeAnalytics_Empty(t *testing.T) {
	report := ComputeAnalytics(&models.Exam{}, nil)
	assert.Zero(t, report.Overall.PassRate)
	assert.Empty(t, report.TopStudents)
	assert.Empty(t, report.Classes)
}

func TestStudentReport(t *testing.T) {
	f := newFixture(t)
	english := uuid.New()
	exam, err := f.exams.CreateExam(f.ctx, f.school, ExamDefinition{
		Name: "End of Term", Type: models.ExamTypeEndOfTerm,
		Subjects: []models.ExamSubject{
			{SubjectID: f.mathID, Name: "Mathematics", MaxMarks: 100},
			{SubjectID: english, Name: "English", MaxMarks: 50},
		},
	}, f.admin)
	require.NoError(t, err)

	top, mid := f.addStudent(t), f.addStudent(t)
	f.enter(t, exam.ID, top, 30, 60)
	f.enter(t, exam.ID, mid, 20, 40)
	_, err = f.marks.EnterMark(f.ctx, MarkEntry{ExamID: exam.ID, StudentID: mid, SubjectID: english, ExamScore: 30}, f.teacher, false)
	require.NoError(t, err)

	report, err := f.analytics.StudentReport(f.ctx, exam.ID, mid, f.teacher)
	require.NoError(t, err)
	assert.Len(t, report.Marks, 2)
	assert.Equal(t, 2, report.TotalStudents)
	assert.Equal(t, 2, report.Standing.Position)
	assert.Equal(t, 90.0, report.Standing.TotalScore)
	assert.Equal(t, 150.0, report.Standing.MaxScore)
	assert.InDelta(t, 60.0, report.Standing.Percentage, 1e-9)
	assert.Equal(t, "High Average", report.Remark)

	_, err = f.analytics.StudentReport(f.ctx, exam.ID, uuid.New(), f.teacher)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalytics_OtherSchool(t *testing.T) {
	f := newFixture(t)
	exam := f.newExam(t, models.ExamStatusOngoing)
	student := f.addStudent(t)
	f.enter(t, exam.ID, student, 30, 60)

	_, err := f.analytics.ExamAnalytics(f.ctx, exam.ID, f.outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.analytics.StudentReport(f.ctx, exam.ID, student, f.outsider)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.analytics.ExamAnalytics(f.ctx, uuid.New(), f.teacher)
	assert.ErrorIs(t, err, ErrNotFound)
}
