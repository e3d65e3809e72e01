package gormrepo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Exams() repository.Exams         { return &examRepo{db: s.db} }
func (s *Store) Marks() repository.Marks         { return &markRepo{db: s.db} }
func (s *Store) Outbox() repository.Outbox       { return &outboxRepo{db: s.db} }
func (s *Store) AuditLog() repository.AuditLog   { return &auditRepo{db: s.db} }
func (s *Store) Directory() repository.Directory { return &directoryRepo{db: s.db} }
func (s *Store) Calendar() repository.Calendar   { return &calendarRepo{db: s.db} }

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}

type examRepo struct {
	db *gorm.DB
}

func (r *examRepo) Create(ctx context.Context, exam *models.Exam) error {
	return r.db.WithContext(ctx).Create(exam).Error
}

func (r *examRepo) Get(ctx context.Context, id uuid.UUID) (*models.Exam, error) {
	var exam models.Exam
	if err := r.db.WithContext(ctx).Preload("Subjects").First(&exam, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &exam, nil
}

func (r *examRepo) List(ctx context.Context, filter repository.ExamFilter) ([]models.Exam, error) {
	query := r.db.WithContext(ctx).Preload("Subjects").Order("start_date DESC, created_at DESC")
	if filter.SchoolID != nil {
		query = query.Where("school_id = ?", *filter.SchoolID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.AcademicYearID != nil {
		query = query.Where("academic_year_id = ?", *filter.AcademicYearID)
	}
	if filter.TermID != nil {
		query = query.Where("term_id = ?", *filter.TermID)
	}

	var exams []models.Exam
	if err := query.Find(&exams).Error; err != nil {
		return nil, err
	}
	return exams, nil
}

func (r *examRepo) Update(ctx context.Context, exam *models.Exam) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(exam).Error
}

func (r *examRepo) ReplaceSubjects(ctx context.Context, examID uuid.UUID, subjects []models.ExamSubject) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("exam_id = ?", examID).Delete(&models.ExamSubject{}).Error; err != nil {
			return err
		}
		if len(subjects) == 0 {
			return nil
		}
		for i := range subjects {
			subjects[i].ExamID = examID
		}
		return tx.Create(&subjects).Error
	})
}

func (r *examRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("exam_id = ?", id).Delete(&models.ExamSubject{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Exam{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

func (r *examRepo) CountByAcademicYear(ctx context.Context, yearID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Exam{}).Where("academic_year_id = ?", yearID).Count(&count).Error
	return count, err
}

type markRepo struct {
	db *gorm.DB
}

func (r *markRepo) Get(ctx context.Context, id uuid.UUID) (*models.StudentMark, error) {
	var mark models.StudentMark
	if err := r.db.WithContext(ctx).First(&mark, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &mark, nil
}

func (r *markRepo) FindByKey(ctx context.Context, examID, studentID, subjectID uuid.UUID) (*models.StudentMark, error) {
	var mark models.StudentMark
	err := r.db.WithContext(ctx).
		Where("exam_id = ? AND student_id = ? AND subject_id = ?", examID, studentID, subjectID).
		First(&mark).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &mark, nil
}

func (r *markRepo) Create(ctx context.Context, mark *models.StudentMark) error {
	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "exam_id"}, {Name: "student_id"}, {Name: "subject_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"class_id", "class_score", "exam_score", "max_marks", "total_score", "percentage",
			"grade", "grade_number", "remarks", "is_absent", "entered_by", "entered_by_name",
			"entered_by_role", "correction_reason", "updated_at",
		}),
	}).Create(mark).Error
	if err != nil {
		return err
	}

	// On conflict the surviving row keeps its own id.
	var stored models.StudentMark
	if err := db.Where("exam_id = ? AND student_id = ? AND subject_id = ?",
		mark.ExamID, mark.StudentID, mark.SubjectID).First(&stored).Error; err != nil {
		return notFound(err)
	}
	*mark = stored
	return nil
}

func (r *markRepo) Update(ctx context.Context, mark *models.StudentMark) error {
	return r.db.WithContext(ctx).Save(mark).Error
}

func (r *markRepo) List(ctx context.Context, examID uuid.UUID, filter repository.MarkFilter) ([]models.StudentMark, error) {
	var marks []models.StudentMark
	if err := markListQuery(r.db.WithContext(ctx), examID, filter).Find(&marks).Error; err != nil {
		return nil, err
	}
	return marks, nil
}

// markListQuery returns rows in ledger order. Upserts keep created_at, so a
// corrected mark stays where it was first entered.
func markListQuery(db *gorm.DB, examID uuid.UUID, filter repository.MarkFilter) *gorm.DB {
	query := db.Where("exam_id = ?", examID)
	if filter.SubjectID != nil {
		query = query.Where("subject_id = ?", *filter.SubjectID)
	}
	if filter.ClassID != nil {
		query = query.Where("class_id = ?", *filter.ClassID)
	}
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	return query.Order("created_at, id")
}

// Marks are removed for good so the natural key can be entered again.
func (r *markRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Unscoped().Delete(&models.StudentMark{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *markRepo) DeleteByExam(ctx context.Context, examID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().Where("exam_id = ?", examID).Delete(&models.StudentMark{})
	return res.RowsAffected, res.Error
}

func (r *markRepo) SetPositions(ctx context.Context, positions map[uuid.UUID]*int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, pos := range positions {
			if err := tx.Model(&models.StudentMark{}).Where("id = ?", id).Update("position", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *markRepo) SetSubmissionStatus(ctx context.Context, id uuid.UUID, status models.SubmissionStatus, verifier *uuid.UUID, at *time.Time) error {
	updates := map[string]interface{}{"submission_status": status}
	if verifier != nil {
		updates["verified_by"] = verifier
		updates["verified_at"] = at
	}
	res := r.db.WithContext(ctx).Model(&models.StudentMark{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type outboxRepo struct {
	db *gorm.DB
}

func (r *outboxRepo) Enqueue(ctx context.Context, item *models.AuditOutbox) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *outboxRepo) Pending(ctx context.Context, limit int) ([]models.AuditOutbox, error) {
	var items []models.AuditOutbox
	err := r.db.WithContext(ctx).
		Where("status = ?", models.OutboxPending).
		Order("created_at").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *outboxRepo) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.AuditOutbox{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       models.OutboxDelivered,
		"delivered_at": at,
	}).Error
}

func (r *outboxRepo) MarkFailedAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string, status models.OutboxStatus) error {
	return r.db.WithContext(ctx).Model(&models.AuditOutbox{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"attempts":   attempts,
		"last_error": lastErr,
	}).Error
}

func (r *outboxRepo) CountByStatus(ctx context.Context, status models.OutboxStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AuditOutbox{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

type auditRepo struct {
	db *gorm.DB
}

// Append inserts only; an id that already exists is left as it is, which
// makes redelivery from the outbox harmless.
func (r *auditRepo) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry).Error
}

func (r *auditRepo) List(ctx context.Context, filter repository.AuditFilter) ([]models.AuditLogEntry, error) {
	query := r.db.WithContext(ctx).Order("timestamp DESC")
	if filter.SchoolID != nil {
		query = query.Where("school_id = ?", *filter.SchoolID)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != nil {
		query = query.Where("entity_id = ?", *filter.EntityID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []models.AuditLogEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

type directoryRepo struct {
	db *gorm.DB
}

func (r *directoryRepo) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *directoryRepo) GetStudent(ctx context.Context, id uuid.UUID) (*models.Student, error) {
	var student models.Student
	if err := r.db.WithContext(ctx).First(&student, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &student, nil
}

func (r *directoryRepo) CurrentClass(ctx context.Context, studentID uuid.UUID) (*uuid.UUID, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND status = ?", studentID, "active").
		Order("created_at DESC").
		First(&enrollment).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &enrollment.ClassID, nil
}

type calendarRepo struct {
	db *gorm.DB
}

func (r *calendarRepo) CreateYear(ctx context.Context, year *models.AcademicYear) error {
	return r.db.WithContext(ctx).Create(year).Error
}

func (r *calendarRepo) GetYear(ctx context.Context, id uuid.UUID) (*models.AcademicYear, error) {
	var year models.AcademicYear
	if err := r.db.WithContext(ctx).First(&year, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &year, nil
}

func (r *calendarRepo) DeleteYear(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&models.AcademicYear{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *calendarRepo) CreateTerm(ctx context.Context, term *models.Term) error {
	return r.db.WithContext(ctx).Create(term).Error
}

func (r *calendarRepo) GetTerm(ctx context.Context, id uuid.UUID) (*models.Term, error) {
	var term models.Term
	if err := r.db.WithContext(ctx).First(&term, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &term, nil
}

func (r *calendarRepo) CountTermsByYear(ctx context.Context, yearID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Term{}).Where("academic_year_id = ?", yearID).Count(&count).Error
	return count, err
}

func (r *calendarRepo) SetCurrent(ctx context.Context, schoolID uuid.UUID, yearID, termID *uuid.UUID) error {
	now := time.Now()
	row := models.TenantCalendar{SchoolID: schoolID, CurrentYearID: yearID, CurrentTermID: termID, UpdatedAt: now}

	updates := map[string]interface{}{"updated_at": now}
	if yearID != nil {
		updates["current_year_id"] = *yearID
	}
	if termID != nil {
		updates["current_term_id"] = *termID
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "school_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&row).Error
}

func (r *calendarRepo) GetCalendar(ctx context.Context, schoolID uuid.UUID) (*models.TenantCalendar, error) {
	var cal models.TenantCalendar
	if err := r.db.WithContext(ctx).First(&cal, "school_id = ?", schoolID).Error; err != nil {
		return nil, notFound(err)
	}
	return &cal, nil
}
