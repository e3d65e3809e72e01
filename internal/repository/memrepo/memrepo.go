// Package memrepo is an in-process implementation of the repository
// contracts. It copies values in and out so callers never share state with
// the store.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
)

type tables struct {
	exams       map[uuid.UUID]models.Exam
	marks       map[uuid.UUID]models.StudentMark
	markSeq     map[uuid.UUID]uint64
	nextSeq     uint64
	outbox      map[uuid.UUID]models.AuditOutbox
	audit       []models.AuditLogEntry
	users       map[uuid.UUID]models.User
	students    map[uuid.UUID]models.Student
	enrollments []models.Enrollment
	years       map[uuid.UUID]models.AcademicYear
	terms       map[uuid.UUID]models.Term
	calendars   map[uuid.UUID]models.TenantCalendar
}

func newTables() *tables {
	return &tables{
		exams:     make(map[uuid.UUID]models.Exam),
		marks:     make(map[uuid.UUID]models.StudentMark),
		markSeq:   make(map[uuid.UUID]uint64),
		outbox:    make(map[uuid.UUID]models.AuditOutbox),
		users:     make(map[uuid.UUID]models.User),
		students:  make(map[uuid.UUID]models.Student),
		years:     make(map[uuid.UUID]models.AcademicYear),
		terms:     make(map[uuid.UUID]models.Term),
		calendars: make(map[uuid.UUID]models.TenantCalendar),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.exams {
		c.exams[k] = copyExam(v)
	}
	for k, v := range t.marks {
		c.marks[k] = v
	}
	for k, v := range t.markSeq {
		c.markSeq[k] = v
	}
	c.nextSeq = t.nextSeq
	for k, v := range t.outbox {
		c.outbox[k] = v
	}
	c.audit = append(c.audit, t.audit...)
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.students {
		c.students[k] = v
	}
	c.enrollments = append(c.enrollments, t.enrollments...)
	for k, v := range t.years {
		c.years[k] = v
	}
	for k, v := range t.terms {
		c.terms[k] = v
	}
	for k, v := range t.calendars {
		c.calendars[k] = v
	}
	return c
}

// DB is the shared state behind every Store view.
type DB struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	t    *tables

	// failAuditAppend lets tests simulate an unavailable audit sink.
	failAuditAppend error
}

type Store struct {
	db *DB
}

func New() *Store {
	return &Store{db: &DB{t: newTables()}}
}

func (s *Store) Exams() repository.Exams         { return examRepo{s.db} }
func (s *Store) Marks() repository.Marks         { return markRepo{s.db} }
func (s *Store) Outbox() repository.Outbox       { return outboxRepo{s.db} }
func (s *Store) AuditLog() repository.AuditLog   { return auditRepo{s.db} }
func (s *Store) Directory() repository.Directory { return directoryRepo{s.db} }
func (s *Store) Calendar() repository.Calendar   { return calendarRepo{s.db} }

// Transaction serialises transactions and restores a snapshot when fn fails.
func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	s.db.mu.RLock()
	snapshot := s.db.t.clone()
	s.db.mu.RUnlock()

	if err := fn(s); err != nil {
		s.db.mu.Lock()
		s.db.t = snapshot
		s.db.mu.Unlock()
		return err
	}
	return nil
}

// SetAuditAppendError makes every AuditLog.Append fail with err until reset with nil.
func (s *Store) SetAuditAppendError(err error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.failAuditAppend = err
}

// Seeding helpers for the records owned by the rest of the platform.

func (s *Store) AddUser(u models.User) models.User {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.t.users[u.ID] = u
	return u
}

func (s *Store) AddStudent(st models.Student, classID *uuid.UUID) models.Student {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.t.students[st.ID] = st
	if classID != nil {
		s.db.t.enrollments = append(s.db.t.enrollments, models.Enrollment{
			BaseModel:  models.BaseModel{ID: uuid.New(), CreatedAt: time.Now()},
			StudentID:  st.ID,
			ClassID:    *classID,
			Status:     "active",
			EnrolledOn: time.Now(),
		})
	}
	return st
}

func copyExam(e models.Exam) models.Exam {
	if e.Subjects != nil {
		e.Subjects = append([]models.ExamSubject(nil), e.Subjects...)
	}
	if e.ClassIDs != nil {
		e.ClassIDs = append(e.ClassIDs[:0:0], e.ClassIDs...)
	}
	return e
}

func stamp(b *models.BaseModel) {
	now := time.Now()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

type examRepo struct{ db *DB }

func (r examRepo) Create(ctx context.Context, exam *models.Exam) error {
	stamp(&exam.BaseModel)
	for i := range exam.Subjects {
		if exam.Subjects[i].ID == uuid.Nil {
			exam.Subjects[i].ID = uuid.New()
		}
		exam.Subjects[i].ExamID = exam.ID
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.t.exams[exam.ID] = copyExam(*exam)
	return nil
}

func (r examRepo) Get(ctx context.Context, id uuid.UUID) (*models.Exam, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	e, ok := r.db.t.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyExam(e)
	return &out, nil
}

func (r examRepo) List(ctx context.Context, filter repository.ExamFilter) ([]models.Exam, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	exams := []models.Exam{}
	for _, e := range r.db.t.exams {
		if filter.SchoolID != nil && e.SchoolID != *filter.SchoolID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.AcademicYearID != nil && (e.AcademicYearID == nil || *e.AcademicYearID != *filter.AcademicYearID) {
			continue
		}
		if filter.TermID != nil && (e.TermID == nil || *e.TermID != *filter.TermID) {
			continue
		}
		exams = append(exams, copyExam(e))
	}
	sort.Slice(exams, func(i, j int) bool {
		if !exams[i].StartDate.Equal(exams[j].StartDate) {
			return exams[i].StartDate.After(exams[j].StartDate)
		}
		return exams[i].CreatedAt.After(exams[j].CreatedAt)
	})
	return exams, nil
}

func (r examRepo) Update(ctx context.Context, exam *models.Exam) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.t.exams[exam.ID]
	if !ok {
		return repository.ErrNotFound
	}
	exam.UpdatedAt = time.Now()
	updated := copyExam(*exam)
	updated.Subjects = stored.Subjects
	r.db.t.exams[exam.ID] = updated
	return nil
}

func (r examRepo) ReplaceSubjects(ctx context.Context, examID uuid.UUID, subjects []models.ExamSubject) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.t.exams[examID]
	if !ok {
		return repository.ErrNotFound
	}
	e.Subjects = make([]models.ExamSubject, len(subjects))
	for i, s := range subjects {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.ExamID = examID
		e.Subjects[i] = s
	}
	r.db.t.exams[examID] = e
	return nil
}

func (r examRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.t.exams[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.t.exams, id)
	return nil
}

func (r examRepo) CountByAcademicYear(ctx context.Context, yearID uuid.UUID) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var n int64
	for _, e := range r.db.t.exams {
		if e.AcademicYearID != nil && *e.AcademicYearID == yearID {
			n++
		}
	}
	return n, nil
}

type markRepo struct{ db *DB }

func (r markRepo) Get(ctx context.Context, id uuid.UUID) (*models.StudentMark, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	m, ok := r.db.t.marks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r markRepo) findByKey(examID, studentID, subjectID uuid.UUID) (models.StudentMark, bool) {
	for _, m := range r.db.t.marks {
		if m.ExamID == examID && m.StudentID == studentID && m.SubjectID == subjectID {
			return m, true
		}
	}
	return models.StudentMark{}, false
}

func (r markRepo) FindByKey(ctx context.Context, examID, studentID, subjectID uuid.UUID) (*models.StudentMark, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	m, ok := r.findByKey(examID, studentID, subjectID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r markRepo) Create(ctx context.Context, mark *models.StudentMark) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if existing, ok := r.findByKey(mark.ExamID, mark.StudentID, mark.SubjectID); ok {
		mark.ID = existing.ID
		mark.CreatedAt = existing.CreatedAt
		mark.SubmissionStatus = existing.SubmissionStatus
		mark.VerifiedBy = existing.VerifiedBy
		mark.VerifiedAt = existing.VerifiedAt
		mark.Position = existing.Position
	}
	stamp(&mark.BaseModel)
	if _, ok := r.db.t.markSeq[mark.ID]; !ok {
		r.db.t.nextSeq++
		r.db.t.markSeq[mark.ID] = r.db.t.nextSeq
	}
	r.db.t.marks[mark.ID] = *mark
	return nil
}

func (r markRepo) Update(ctx context.Context, mark *models.StudentMark) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.t.marks[mark.ID]; !ok {
		return repository.ErrNotFound
	}
	mark.UpdatedAt = time.Now()
	r.db.t.marks[mark.ID] = *mark
	return nil
}

func (r markRepo) List(ctx context.Context, examID uuid.UUID, filter repository.MarkFilter) ([]models.StudentMark, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	marks := []models.StudentMark{}
	for _, m := range r.db.t.marks {
		if m.ExamID != examID {
			continue
		}
		if filter.SubjectID != nil && m.SubjectID != *filter.SubjectID {
			continue
		}
		if filter.ClassID != nil && (m.ClassID == nil || *m.ClassID != *filter.ClassID) {
			continue
		}
		if filter.StudentID != nil && m.StudentID != *filter.StudentID {
			continue
		}
		marks = append(marks, m)
	}
	seq := r.db.t.markSeq
	sort.Slice(marks, func(i, j int) bool { return seq[marks[i].ID] < seq[marks[j].ID] })
	return marks, nil
}

func (r markRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.t.marks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.t.marks, id)
	delete(r.db.t.markSeq, id)
	return nil
}

func (r markRepo) DeleteByExam(ctx context.Context, examID uuid.UUID) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, m := range r.db.t.marks {
		if m.ExamID == examID {
			delete(r.db.t.marks, id)
			delete(r.db.t.markSeq, id)
			n++
		}
	}
	return n, nil
}

func (r markRepo) SetPositions(ctx context.Context, positions map[uuid.UUID]*int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, pos := range positions {
		m, ok := r.db.t.marks[id]
		if !ok {
			continue
		}
		if pos != nil {
			p := *pos
			m.Position = &p
		} else {
			m.Position = nil
		}
		r.db.t.marks[id] = m
	}
	return nil
}

func (r markRepo) SetSubmissionStatus(ctx context.Context, id uuid.UUID, status models.SubmissionStatus, verifier *uuid.UUID, at *time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.t.marks[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.SubmissionStatus = status
	if verifier != nil {
		m.VerifiedBy = verifier
		m.VerifiedAt = at
	}
	r.db.t.marks[id] = m
	return nil
}

type outboxRepo struct{ db *DB }

func (r outboxRepo) Enqueue(ctx context.Context, item *models.AuditOutbox) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = models.OutboxPending
	}
	item.CreatedAt = time.Now()
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.t.outbox[item.ID] = *item
	return nil
}

func (r outboxRepo) Pending(ctx context.Context, limit int) ([]models.AuditOutbox, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	items := []models.AuditOutbox{}
	for _, o := range r.db.t.outbox {
		if o.Status == models.OutboxPending {
			items = append(items, o)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r outboxRepo) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.t.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = models.OutboxDelivered
	o.DeliveredAt = &at
	r.db.t.outbox[id] = o
	return nil
}

func (r outboxRepo) MarkFailedAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string, status models.OutboxStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	o, ok := r.db.t.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.Attempts = attempts
	o.LastError = lastErr
	o.Status = status
	r.db.t.outbox[id] = o
	return nil
}

func (r outboxRepo) CountByStatus(ctx context.Context, status models.OutboxStatus) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var n int64
	for _, o := range r.db.t.outbox {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

type auditRepo struct{ db *DB }

func (r auditRepo) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failAuditAppend != nil {
		return r.db.failAuditAppend
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	for _, e := range r.db.t.audit {
		if e.ID == entry.ID {
			return nil
		}
	}
	r.db.t.audit = append(r.db.t.audit, *entry)
	return nil
}

func (r auditRepo) List(ctx context.Context, filter repository.AuditFilter) ([]models.AuditLogEntry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	entries := []models.AuditLogEntry{}
	for i := len(r.db.t.audit) - 1; i >= 0; i-- {
		e := r.db.t.audit[i]
		if filter.SchoolID != nil && (e.SchoolID == nil || *e.SchoolID != *filter.SchoolID) {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != nil && e.EntityID != *filter.EntityID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		entries = append(entries, e)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}

type directoryRepo struct{ db *DB }

func (r directoryRepo) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	u, ok := r.db.t.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r directoryRepo) GetStudent(ctx context.Context, id uuid.UUID) (*models.Student, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	st, ok := r.db.t.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

func (r directoryRepo) CurrentClass(ctx context.Context, studentID uuid.UUID) (*uuid.UUID, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for i := len(r.db.t.enrollments) - 1; i >= 0; i-- {
		e := r.db.t.enrollments[i]
		if e.StudentID == studentID && e.Status == "active" {
			id := e.ClassID
			return &id, nil
		}
	}
	return nil, repository.ErrNotFound
}

type calendarRepo struct{ db *DB }

func (r calendarRepo) CreateYear(ctx context.Context, year *models.AcademicYear) error {
	stamp(&year.BaseModel)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.t.years[year.ID] = *year
	return nil
}

func (r calendarRepo) GetYear(ctx context.Context, id uuid.UUID) (*models.AcademicYear, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	y, ok := r.db.t.years[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &y, nil
}

func (r calendarRepo) DeleteYear(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.t.years[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.t.years, id)
	return nil
}

func (r calendarRepo) CreateTerm(ctx context.Context, term *models.Term) error {
	stamp(&term.BaseModel)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.t.terms[term.ID] = *term
	return nil
}

func (r calendarRepo) GetTerm(ctx context.Context, id uuid.UUID) (*models.Term, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	t, ok := r.db.t.terms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r calendarRepo) CountTermsByYear(ctx context.Context, yearID uuid.UUID) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var n int64
	for _, t := range r.db.t.terms {
		if t.AcademicYearID == yearID {
			n++
		}
	}
	return n, nil
}

func (r calendarRepo) SetCurrent(ctx context.Context, schoolID uuid.UUID, yearID, termID *uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cal := r.db.t.calendars[schoolID]
	cal.SchoolID = schoolID
	if yearID != nil {
		y := *yearID
		cal.CurrentYearID = &y
	}
	if termID != nil {
		t := *termID
		cal.CurrentTermID = &t
	}
	cal.UpdatedAt = time.Now()
	r.db.t.calendars[schoolID] = cal
	return nil
}

func (r calendarRepo) GetCalendar(ctx context.Context, schoolID uuid.UUID) (*models.TenantCalendar, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	cal, ok := r.db.t.calendars[schoolID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &cal, nil
}
