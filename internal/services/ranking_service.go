package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/metrics"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
)

// RankMarks assigns subject positions: non-absent rows ordered by total
// score descending get 1, 2, 3... with ties kept in ledger order and not
// collapsed. Absent rows get nil. marks must all belong to one subject.
func RankMarks(marks []models.StudentMark) map[uuid.UUID]*int {
	positions := make(map[uuid.UUID]*int, len(marks))
	present := make([]models.StudentMark, 0, len(marks))
	for _, m := range marks {
		if m.IsAbsent {
			positions[m.ID] = nil
			continue
		}
		present = append(present, m)
	}
	sort.SliceStable(present, func(i, j int) bool {
		return present[i].TotalScore > present[j].TotalScore
	})
	for i, m := range present {
		pos := i + 1
		positions[m.ID] = &pos
	}
	return positions
}

type RankingService struct {
	store    repository.Store
	resolver authz.TenantResolver
}

func NewRankingService(store repository.Store, resolver authz.TenantResolver) *RankingService {
	if resolver == nil {
		resolver = authz.NewDirectoryResolver(store.Directory())
	}
	return &RankingService{store: store, resolver: resolver}
}

// rankableExam loads an exam of the caller's school whose positions may be rewritten.
func (s *RankingService) rankableExam(ctx context.Context, examID uuid.UUID, caller authz.Caller) (*models.Exam, error) {
	caps, err := authz.Resolve(ctx, s.resolver, caller)
	if err != nil {
		return nil, err
	}
	exam, err := examFor(ctx, s.store, caps, examID)
	if err != nil {
		return nil, err
	}
	if exam.Locked() {
		metrics.LockRejections.WithLabelValues("rank_locked").Inc()
		return nil, fmt.Errorf("exam %s: %w", exam.ID, ErrLockedExam)
	}
	return exam, nil
}

// RankSubject recomputes and stores the positions of one subject of an exam.
// Positions are ledger writes, so a locked exam must be unlocked first.
func (s *RankingService) RankSubject(ctx context.Context, examID, subjectID uuid.UUID, caller authz.Caller) ([]models.StudentMark, error) {
	exam, err := s.rankableExam(ctx, examID, caller)
	if err != nil {
		return nil, err
	}
	return s.rankSubject(ctx, exam.ID, subjectID)
}

func (s *RankingService) rankSubject(ctx context.Context, examID, subjectID uuid.UUID) ([]models.StudentMark, error) {
	start := time.Now()
	defer func() {
		metrics.AnalyticsDuration.WithLabelValues("rank_subject").Observe(time.Since(start).Seconds())
	}()

	marks, err := s.store.Marks().List(ctx, examID, repository.MarkFilter{SubjectID: &subjectID})
	if err != nil {
		return nil, err
	}
	positions := RankMarks(marks)
	if err := s.store.Marks().SetPositions(ctx, positions); err != nil {
		return nil, fmt.Errorf("store positions: %w", err)
	}
	for i := range marks {
		marks[i].Position = positions[marks[i].ID]
	}
	sort.SliceStable(marks, func(i, j int) bool {
		pi, pj := marks[i].Position, marks[j].Position
		if pi == nil || pj == nil {
			return pj == nil && pi != nil
		}
		return *pi < *pj
	})
	return marks, nil
}

// RankExam ranks every subject that has ledger rows and returns the number
// of rows ranked per subject.
func (s *RankingService) RankExam(ctx context.Context, examID uuid.UUID, caller authz.Caller) (map[uuid.UUID]int, error) {
	exam, err := s.rankableExam(ctx, examID, caller)
	if err != nil {
		return nil, err
	}

	marks, err := s.store.Marks().List(ctx, exam.ID, repository.MarkFilter{})
	if err != nil {
		return nil, err
	}
	var subjects []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, m := range marks {
		if !seen[m.SubjectID] {
			seen[m.SubjectID] = true
			subjects = append(subjects, m.SubjectID)
		}
	}

	ranked := make(map[uuid.UUID]int, len(subjects))
	for _, subjectID := range subjects {
		rows, err := s.rankSubject(ctx, exam.ID, subjectID)
		if err != nil {
			return nil, fmt.Errorf("rank subject %s: %w", subjectID, err)
		}
		ranked[subjectID] = len(rows)
	}
	return ranked, nil
}
