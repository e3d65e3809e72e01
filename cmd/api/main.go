package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/config"
	"github.com/school-system/exams/internal/database"
	"github.com/school-system/exams/internal/handlers"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository/gormrepo"
	"github.com/school-system/exams/internal/services"
	"gorm.io/gorm"
)

// @title School Exams API
// @version 1.0
// @description Exam lifecycle, marks ledger, ranking and analytics for multi-school deployments
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if len(os.Args) > 1 {
		handleCommand(os.Args[1])
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if cfg.Server.Env == "development" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	store := gormrepo.New(db)
	resolver := authz.NewDirectoryResolver(store.Directory())

	// Services
	authService := services.NewAuthService(db, cfg)
	auditService := services.NewAuditService(store, cfg.Audit.Origin, resolver)
	examService := services.NewExamService(store, auditService, resolver)
	marksService := services.NewMarksService(store, auditService, resolver)
	rankingService := services.NewRankingService(store, resolver)
	analyticsService := services.NewAnalyticsService(store, resolver)
	academicService := services.NewAcademicService(store, resolver)

	r := handlers.NewRouter(handlers.RouterConfig{
		Verifier:       authService,
		Auth:           handlers.NewAuthHandler(authService),
		Exams:          handlers.NewExamHandler(examService, rankingService, analyticsService),
		Marks:          handlers.NewMarksHandler(marksService),
		Audit:          handlers.NewAuditHandler(auditService),
		Academic:       handlers.NewAcademicHandler(academicService),
		AllowedOrigins: cfg.CORS.Origins,
		Metrics:        cfg.Monitoring.PrometheusEnabled,
		Swagger:        cfg.Server.Env != "production",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Audit.RelayEnabled {
		relay := services.NewAuditRelay(store, nil, cfg.Audit.BatchSize, cfg.Audit.MaxAttempts)
		go relay.Run(ctx, cfg.Audit.RelayInterval)
		log.Printf("Audit relay running every %s", cfg.Audit.RelayInterval)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown: %v", err)
	}
}

func handleCommand(cmd string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	ctx := context.Background()
	switch cmd {
	case "migrate":
		if err := database.Migrate(db); err != nil {
			log.Fatal("Migration failed:", err)
		}
		log.Println("Migration completed successfully")

	case "seed-demo":
		if err := seedDemo(ctx, db, cfg); err != nil {
			log.Fatal("Seeding failed:", err)
		}

	case "relay-audit":
		store := gormrepo.New(db)
		stats, err := services.NewAuditRelay(store, nil, cfg.Audit.BatchSize, cfg.Audit.MaxAttempts).Flush(ctx)
		if err != nil {
			log.Fatal("Audit relay failed:", err)
		}
		log.Printf("Audit relay: delivered=%d retried=%d failed=%d", stats.Delivered, stats.Retried, stats.Failed)

	default:
		log.Printf("Unknown command: %s (expected migrate, seed-demo or relay-audit)", cmd)
	}
}

// seedDemo creates a school with an administrator, a teacher, one class of
// students and a current academic year, for local development.
func seedDemo(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	if cfg.Server.Env == "production" && cfg.Server.SeedSecret == "" {
		return errors.New("refusing to seed production without SEED_SECRET")
	}

	var count int64
	db.Model(&models.User{}).Where("email = ?", "admin@demo.school").Count(&count)
	if count > 0 {
		log.Println("Demo data already exists")
		return nil
	}

	authService := services.NewAuthService(db, cfg)
	school := models.School{
		Name:    "Demo Secondary School",
		Type:    "Secondary",
		Country: "Uganda",
		Motto:   "Learn to Serve",
	}
	if err := db.WithContext(ctx).Create(&school).Error; err != nil {
		return err
	}

	users := []struct {
		user     models.User
		password string
	}{
		{models.User{SchoolID: &school.ID, Email: "admin@demo.school", FullName: "School Administrator", Role: "school_admin", IsActive: true}, "Admin@123"},
		{models.User{SchoolID: &school.ID, Email: "teacher@demo.school", FullName: "Subject Teacher", Role: "teacher", IsActive: true}, "Teacher@123"},
		{models.User{SchoolID: &school.ID, Email: "classteacher@demo.school", FullName: "Class Teacher", Role: "class_teacher", IsActive: true}, "Teacher@123"},
	}
	for i := range users {
		if err := authService.CreateUser(ctx, &users[i].user, users[i].password); err != nil {
			return fmt.Errorf("create %s: %w", users[i].user.Email, err)
		}
		log.Printf("%s: %s / %s", users[i].user.Role, users[i].user.Email, users[i].password)
	}

	class := models.Class{SchoolID: school.ID, Name: "S2 East", Level: "S2", TeacherID: &users[2].user.ID}
	if err := db.WithContext(ctx).Create(&class).Error; err != nil {
		return err
	}
	for i := 1; i <= 10; i++ {
		student := models.Student{
			SchoolID:    school.ID,
			AdmissionNo: fmt.Sprintf("DSS/%03d", i),
			FirstName:   "Student",
			LastName:    fmt.Sprintf("%02d", i),
		}
		if err := db.WithContext(ctx).Create(&student).Error; err != nil {
			return err
		}
		enrollment := models.Enrollment{StudentID: student.ID, ClassID: class.ID, Status: "active", EnrolledOn: time.Now()}
		if err := db.WithContext(ctx).Create(&enrollment).Error; err != nil {
			return err
		}
	}

	now := time.Now()
	year := models.AcademicYear{
		SchoolID:  school.ID,
		Name:      fmt.Sprintf("%d", now.Year()),
		StartDate: time.Date(now.Year(), time.February, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(now.Year(), time.December, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := db.WithContext(ctx).Create(&year).Error; err != nil {
		return err
	}
	if err := gormrepo.New(db).Calendar().SetCurrent(ctx, school.ID, &year.ID, nil); err != nil {
		return err
	}

	log.Printf("Seeded school %s with 10 students in %s", school.Name, class.Name)
	return nil
}
