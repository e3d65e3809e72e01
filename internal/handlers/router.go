package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/school-system/exams/internal/middleware"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type RouterConfig struct {
	Verifier       middleware.TokenVerifier
	Auth           *AuthHandler
	Exams          *ExamHandler
	Marks          *MarksHandler
	Audit          *AuditHandler
	Academic       *AcademicHandler
	AllowedOrigins []string
	Metrics        bool
	Swagger        bool
}

func cors(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		for _, o := range allowed {
			if origin == o {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(cors(cfg.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "exams-api"})
	})
	if cfg.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	if cfg.Swagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	if cfg.Auth != nil {
		auth := v1.Group("/auth")
		auth.POST("/login", cfg.Auth.Login)
		auth.POST("/refresh", cfg.Auth.Refresh)
		auth.POST("/logout", cfg.Auth.Logout)
	}

	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(cfg.Verifier))
	protected.Use(middleware.TenantMiddleware())
	protected.Use(middleware.RequireStaff())
	{
		protected.GET("/exams", cfg.Exams.List)
		protected.GET("/exams/:id", cfg.Exams.Get)
		protected.GET("/exams/:id/analytics", cfg.Exams.Analytics)
		protected.GET("/exams/:id/students/:studentId/report", cfg.Exams.StudentReport)
		protected.GET("/exams/:id/marks", cfg.Marks.List)

		protected.POST("/marks", cfg.Marks.Enter)
		protected.POST("/marks/bulk", cfg.Marks.EnterBulk)
		protected.DELETE("/marks/:id", cfg.Marks.Delete)
		protected.POST("/marks/bulk-delete", cfg.Marks.DeleteBulk)
		protected.POST("/marks/submit", cfg.Marks.Submit)

		protected.GET("/calendar", cfg.Academic.Calendar)

		verifier := protected.Group("")
		verifier.Use(middleware.RequireVerifier())
		{
			verifier.POST("/marks/verify", cfg.Marks.Verify)
			verifier.POST("/exams/:id/rank", cfg.Exams.RankExam)
			verifier.POST("/exams/:id/subjects/:subjectId/rank", cfg.Exams.RankSubject)
		}

		admin := protected.Group("")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/exams", cfg.Exams.Create)
			admin.PUT("/exams/:id", cfg.Exams.Update)
			admin.DELETE("/exams/:id", cfg.Exams.Delete)
			admin.POST("/exams/:id/publish", cfg.Exams.Publish)
			admin.POST("/exams/:id/unlock", cfg.Exams.Unlock)
			admin.POST("/exams/:id/lock", cfg.Exams.Lock)

			admin.GET("/audit", cfg.Audit.List)

			admin.POST("/academic-years", cfg.Academic.CreateYear)
			admin.POST("/academic-years/:id/current", cfg.Academic.SetCurrentYear)
			admin.DELETE("/academic-years/:id", cfg.Academic.DeleteYear)
			admin.POST("/terms", cfg.Academic.CreateTerm)
			admin.POST("/terms/:id/current", cfg.Academic.SetCurrentTerm)
		}
	}

	return r
}
