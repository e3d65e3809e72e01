package database

import (
	"fmt"
	"log"
	"strings"

	"github.com/school-system/exams/internal/config"
	"github.com/school-system/exams/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector picks the gorm driver for the configured database.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres", "":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func logLevel(name string) logger.LogLevel {
	switch strings.ToLower(name) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	}
	return logger.Warn
}

func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.Database)
	if err != nil {
		return nil, err
	}

	level := logLevel(cfg.Database.LogLevel)
	if cfg.Server.Env == "development" {
		level = logger.Info
	}

	log.Printf("Connecting to %s database %s on %s:%s", cfg.Database.Driver, cfg.Database.Name, cfg.Database.Host, cfg.Database.Port)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connection successful")
	return db, nil
}

// Models lists every table this service owns or reads.
func Models() []interface{} {
	return []interface{}{
		&models.School{},
		&models.User{},
		&models.Class{},
		&models.Student{},
		&models.Enrollment{},
		&models.AcademicYear{},
		&models.Term{},
		&models.TenantCalendar{},
		&models.Exam{},
		&models.ExamSubject{},
		&models.StudentMark{},
		&models.AuditLogEntry{},
		&models.AuditOutbox{},
		&models.RefreshToken{},
	}
}

// Composite indexes for the hot read paths, on top of the ones declared in struct tags.
var extraIndexes = []struct {
	table   string
	name    string
	columns string
}{
	{"student_marks", "idx_marks_exam_subject", "exam_id, subject_id"},
	{"student_marks", "idx_marks_exam_class", "exam_id, class_id"},
	{"audit_outboxes", "idx_outbox_status_created", "status, created_at"},
	{"exams", "idx_exams_school_status", "school_id, status"},
}

func Migrate(db *gorm.DB) error {
	log.Println("Running migrations...")

	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}

	for _, idx := range extraIndexes {
		if db.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, idx.table, idx.columns)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}

	log.Println("Migrations completed")
	return nil
}
