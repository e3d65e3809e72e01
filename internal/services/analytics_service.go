package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/grading"
	"github.com/school-system/exams/internal/metrics"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
)

const (
	topStudentsLimit = 10
	topClassesLimit  = 5
)

type OverallStats struct {
	UniqueStudents int     `json:"unique_students"`
	TotalEntries   int     `json:"total_entries"`
	Passed         int     `json:"passed"`
	Failed         int     `json:"failed"`
	Absent         int     `json:"absent"`
	PassRate       float64 `json:"pass_rate"`
}

type GradeCount struct {
	GradeNumber int    `json:"grade_number"`
	Grade       string `json:"grade"`
	Remark      string `json:"remark"`
	Count       int    `json:"count"`
}

type SubjectStats struct {
	SubjectID         uuid.UUID `json:"subject_id"`
	Name              string    `json:"name"`
	MaxMarks          float64   `json:"max_marks"`
	StudentCount      int       `json:"student_count"`
	Absent            int       `json:"absent"`
	Highest           float64   `json:"highest"`
	Lowest            float64   `json:"lowest"`
	AveragePercentage float64   `json:"average_percentage"`
	Passed            int       `json:"passed"`
	Failed            int       `json:"failed"`
	PassRate          float64   `json:"pass_rate"`
}

type ClassStats struct {
	ClassID           *uuid.UUID `json:"class_id"`
	UniqueStudents    int        `json:"unique_students"`
	TotalPercentage   float64    `json:"total_percentage"`
	AveragePercentage float64    `json:"average_percentage"`
	Passed            int        `json:"passed"`
	Failed            int        `json:"failed"`
	Absent            int        `json:"absent"`
	TopScore          float64    `json:"top_score"`
}

type StudentStanding struct {
	StudentID    uuid.UUID  `json:"student_id"`
	ClassID      *uuid.UUID `json:"class_id,omitempty"`
	SubjectCount int        `json:"subject_count"`
	TotalScore   float64    `json:"total_score"`
	MaxScore     float64    `json:"max_score"`
	Percentage   float64    `json:"percentage"`
	Grade        string     `json:"grade"`
	Position     int        `json:"position"`
}

type ExamAnalytics struct {
	ExamID            uuid.UUID         `json:"exam_id"`
	Overall           OverallStats      `json:"overall"`
	GradeDistribution []GradeCount      `json:"grade_distribution"`
	Subjects          []SubjectStats    `json:"subjects"`
	Classes           []ClassStats      `json:"classes"`
	TopStudents       []StudentStanding `json:"top_students"`
	TopClasses        []ClassStats      `json:"top_classes"`
}

type StudentReport struct {
	ExamID        uuid.UUID            `json:"exam_id"`
	ExamName      string               `json:"exam_name"`
	StudentID     uuid.UUID            `json:"student_id"`
	Marks         []models.StudentMark `json:"marks"`
	Standing      StudentStanding      `json:"standing"`
	Remark        string               `json:"remark"`
	TotalStudents int                  `json:"total_students"`
}

func rate(passed, failed int) float64 {
	if passed+failed == 0 {
		return 0
	}
	return float64(passed) / float64(passed+failed) * 100
}

// ComputeAnalytics derives the exam report from its ledger rows. Pass and
// fail are counted per row against grading.PassMark; absent rows count
// only as absent.
func ComputeAnalytics(exam *models.Exam, marks []models.StudentMark) *ExamAnalytics {
	out := &ExamAnalytics{ExamID: exam.ID}

	students := map[uuid.UUID]bool{}
	gradeCounts := map[int]*GradeCount{}
	for _, m := range marks {
		students[m.StudentID] = true
		out.Overall.TotalEntries++
		switch {
		case m.IsAbsent:
			out.Overall.Absent++
			continue
		case grading.Passed(m.Percentage):
			out.Overall.Passed++
		default:
			out.Overall.Failed++
		}
		gc, ok := gradeCounts[m.GradeNumber]
		if !ok {
			g := grading.Grade(m.Percentage)
			gc = &GradeCount{GradeNumber: m.GradeNumber, Grade: m.Grade, Remark: g.Remark}
			gradeCounts[m.GradeNumber] = gc
		}
		gc.Count++
	}
	out.Overall.UniqueStudents = len(students)
	out.Overall.PassRate = rate(out.Overall.Passed, out.Overall.Failed)

	out.GradeDistribution = make([]GradeCount, 0, len(gradeCounts))
	for _, gc := range gradeCounts {
		out.GradeDistribution = append(out.GradeDistribution, *gc)
	}
	sort.Slice(out.GradeDistribution, func(i, j int) bool {
		return out.GradeDistribution[i].GradeNumber < out.GradeDistribution[j].GradeNumber
	})

	out.Subjects = subjectStats(exam, marks)
	out.Classes = classStats(marks)

	standings := Standings(marks)
	if len(standings) > topStudentsLimit {
		out.TopStudents = standings[:topStudentsLimit]
	} else {
		out.TopStudents = standings
	}

	top := append([]ClassStats(nil), out.Classes...)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].AveragePercentage > top[j].AveragePercentage
	})
	if len(top) > topClassesLimit {
		top = top[:topClassesLimit]
	}
	out.TopClasses = top
	return out
}

func subjectStats(exam *models.Exam, marks []models.StudentMark) []SubjectStats {
	type acc struct {
		stats      SubjectStats
		totalScore float64
		totalMax   float64
	}
	bySubject := map[uuid.UUID]*acc{}
	var order []uuid.UUID
	get := func(id uuid.UUID) *acc {
		a, ok := bySubject[id]
		if !ok {
			a = &acc{stats: SubjectStats{SubjectID: id}}
			if def, ok := exam.Subject(id); ok {
				a.stats.Name = def.Name
				a.stats.MaxMarks = def.MaxMarks
			}
			bySubject[id] = a
			order = append(order, id)
		}
		return a
	}
	for _, def := range exam.Subjects {
		get(def.SubjectID)
	}

	for _, m := range marks {
		a := get(m.SubjectID)
		if m.IsAbsent {
			a.stats.Absent++
			continue
		}
		if a.stats.StudentCount == 0 || m.TotalScore > a.stats.Highest {
			a.stats.Highest = m.TotalScore
		}
		if a.stats.StudentCount == 0 || m.TotalScore < a.stats.Lowest {
			a.stats.Lowest = m.TotalScore
		}
		a.stats.StudentCount++
		a.totalScore += m.TotalScore
		a.totalMax += m.MaxMarks
		if m.MaxMarks > a.stats.MaxMarks {
			a.stats.MaxMarks = m.MaxMarks
		}
		if grading.Passed(m.Percentage) {
			a.stats.Passed++
		} else {
			a.stats.Failed++
		}
	}

	out := make([]SubjectStats, 0, len(order))
	for _, id := range order {
		a := bySubject[id]
		if a.totalMax > 0 {
			a.stats.AveragePercentage = a.totalScore / a.totalMax * 100
		}
		a.stats.PassRate = rate(a.stats.Passed, a.stats.Failed)
		out = append(out, a.stats)
	}
	return out
}

func classKey(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func classStats(marks []models.StudentMark) []ClassStats {
	type acc struct {
		stats    ClassStats
		students map[uuid.UUID]bool
		present  int
	}
	byClass := map[uuid.UUID]*acc{}
	var order []uuid.UUID
	for _, m := range marks {
		key := classKey(m.ClassID)
		a, ok := byClass[key]
		if !ok {
			a = &acc{stats: ClassStats{ClassID: m.ClassID}, students: map[uuid.UUID]bool{}}
			byClass[key] = a
			order = append(order, key)
		}
		a.students[m.StudentID] = true
		if m.IsAbsent {
			a.stats.Absent++
			continue
		}
		a.present++
		a.stats.TotalPercentage += m.Percentage
		if m.TotalScore > a.stats.TopScore {
			a.stats.TopScore = m.TotalScore
		}
		if grading.Passed(m.Percentage) {
			a.stats.Passed++
		} else {
			a.stats.Failed++
		}
	}

	out := make([]ClassStats, 0, len(order))
	for _, key := range order {
		a := byClass[key]
		a.stats.UniqueStudents = len(a.students)
		if a.present > 0 {
			a.stats.AveragePercentage = a.stats.TotalPercentage / float64(a.present)
		}
		out = append(out, a.stats)
	}
	return out
}

// Standings aggregates each student's non-absent rows and orders students by
// overall percentage, highest first. Positions follow that order.
func Standings(marks []models.StudentMark) []StudentStanding {
	byStudent := map[uuid.UUID]*StudentStanding{}
	var order []uuid.UUID
	for _, m := range marks {
		if m.IsAbsent {
			continue
		}
		st, ok := byStudent[m.StudentID]
		if !ok {
			st = &StudentStanding{StudentID: m.StudentID, ClassID: m.ClassID}
			byStudent[m.StudentID] = st
			order = append(order, m.StudentID)
		}
		st.SubjectCount++
		st.TotalScore += m.TotalScore
		st.MaxScore += m.MaxMarks
	}

	out := make([]StudentStanding, 0, len(order))
	for _, id := range order {
		st := byStudent[id]
		if st.MaxScore > 0 {
			st.Percentage = st.TotalScore / st.MaxScore * 100
		}
		st.Grade = grading.Grade(st.Percentage).Grade
		out = append(out, *st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Percentage != out[j].Percentage {
			return out[i].Percentage > out[j].Percentage
		}
		return out[i].TotalScore > out[j].TotalScore
	})
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

type AnalyticsService struct {
	store    repository.Store
	resolver authz.TenantResolver
}

func NewAnalyticsService(store repository.Store, resolver authz.TenantResolver) *AnalyticsService {
	if resolver == nil {
		resolver = authz.NewDirectoryResolver(store.Directory())
	}
	return &AnalyticsService{store: store, resolver: resolver}
}

func (s *AnalyticsService) examMarks(ctx context.Context, examID uuid.UUID, caller authz.Caller) (*models.Exam, []models.StudentMark, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, nil, err
	}
	exam, err := examFor(ctx, s.store, caps, examID)
	if err != nil {
		return nil, nil, err
	}
	marks, err := s.store.Marks().List(ctx, exam.ID, repository.MarkFilter{})
	if err != nil {
		return nil, nil, err
	}
	return exam, marks, nil
}

func (s *AnalyticsService) ExamAnalytics(ctx context.Context, examID uuid.UUID, caller authz.Caller) (*ExamAnalytics, error) {
	start := time.Now()
	defer func() {
		metrics.AnalyticsDuration.WithLabelValues("exam").Observe(time.Since(start).Seconds())
	}()

	exam, marks, err := s.examMarks(ctx, examID, caller)
	if err != nil {
		return nil, err
	}
	return ComputeAnalytics(exam, marks), nil
}

// StudentReport returns one student's marks for an exam with their overall
// standing among everyone who sat it.
func (s *AnalyticsService) StudentReport(ctx context.Context, examID, studentID uuid.UUID, caller authz.Caller) (*StudentReport, error) {
	start := time.Now()
	defer func() {
		metrics.AnalyticsDuration.WithLabelValues("student_report").Observe(time.Since(start).Seconds())
	}()

	exam, marks, err := s.examMarks(ctx, examID, caller)
	if err != nil {
		return nil, err
	}

	report := &StudentReport{ExamID: exam.ID, ExamName: exam.Name, StudentID: studentID, Marks: []models.StudentMark{}}
	for _, m := range marks {
		if m.StudentID == studentID {
			report.Marks = append(report.Marks, m)
		}
	}
	if len(report.Marks) == 0 {
		return nil, fmt.Errorf("no marks for student %s in exam %s: %w", studentID, exam.ID, ErrNotFound)
	}

	standings := Standings(marks)
	report.TotalStudents = len(standings)
	report.Remark = grading.AbsentRemark
	for _, st := range standings {
		if st.StudentID == studentID {
			report.Standing = st
			report.Remark = grading.Grade(st.Percentage).Remark
			break
		}
	}
	if report.Standing.StudentID == uuid.Nil {
		report.Standing = StudentStanding{StudentID: studentID, ClassID: report.Marks[0].ClassID}
	}
	return report, nil
}
