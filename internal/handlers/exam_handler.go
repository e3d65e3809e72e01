package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/school-system/exams/internal/middleware"
	"github.com/school-system/exams/internal/models"
	"github.com/school-system/exams/internal/repository"
	"github.com/school-system/exams/internal/services"
)

type ExamHandler struct {
	exams     *services.ExamService
	ranking   *services.RankingService
	analytics *services.AnalyticsService
}

func NewExamHandler(exams *services.ExamService, ranking *services.RankingService, analytics *services.AnalyticsService) *ExamHandler {
	return &ExamHandler{exams: exams, ranking: ranking, analytics: analytics}
}

type UnlockRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// @Summary Create exam
// @Tags exams
// @Accept json
// @Produce json
// @Param request body services.ExamDefinition true "Exam definition"
// @Success 201 {object} models.Exam
// @Router /api/v1/exams [post]
func (h *ExamHandler) Create(c *gin.Context) {
	schoolID, ok := middleware.TenantSchoolID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "school_id is required"})
		return
	}
	var def services.ExamDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exam, err := h.exams.CreateExam(c.Request.Context(), schoolID, def, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exam)
}

// @Summary List exams
// @Tags exams
// @Produce json
// @Param status query string false "Status"
// @Param type query string false "Exam type"
// @Param academic_year_id query string false "Academic year"
// @Param term_id query string false "Term"
// @Success 200 {array} models.Exam
// @Router /api/v1/exams [get]
func (h *ExamHandler) List(c *gin.Context) {
	filter := repository.ExamFilter{
		Status: models.ExamStatus(c.Query("status")),
		Type:   models.ExamType(c.Query("type")),
	}
	if schoolID, ok := middleware.TenantSchoolID(c); ok {
		filter.SchoolID = &schoolID
	}
	var ok bool
	if filter.AcademicYearID, ok = optionalUUIDQuery(c, "academic_year_id"); !ok {
		return
	}
	if filter.TermID, ok = optionalUUIDQuery(c, "term_id"); !ok {
		return
	}

	exams, err := h.exams.ListExams(c.Request.Context(), filter, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exams)
}

// @Summary Get exam
// @Tags exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} models.Exam
// @Router /api/v1/exams/{id} [get]
func (h *ExamHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	exam, err := h.exams.GetExam(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

// @Summary Update exam
// @Description Published exams need ?override=true from an administrator.
// @Tags exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param override query bool false "Administrator override"
// @Param request body services.ExamUpdate true "Fields to change"
// @Success 200 {object} models.Exam
// @Router /api/v1/exams/{id} [put]
func (h *ExamHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var upd services.ExamUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exam, err := h.exams.UpdateExam(c.Request.Context(), id, upd, callerFrom(c), adminOverride(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

// @Summary Delete exam and its marks
// @Tags exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200
// @Router /api/v1/exams/{id} [delete]
func (h *ExamHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	removed, err := h.exams.DeleteExam(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Exam deleted", "marks_removed": removed})
}

// @Summary Publish exam
// @Tags exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} models.Exam
// @Router /api/v1/exams/{id}/publish [post]
func (h *ExamHandler) Publish(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	exam, err := h.exams.PublishExam(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

// @Summary Unlock exam for corrections
// @Tags exams
// @Accept json
// @Produce json
// @Param id path string true "Exam ID"
// @Param request body UnlockRequest true "Reason"
// @Success 200 {object} models.Exam
// @Router /api/v1/exams/{id}/unlock [post]
func (h *ExamHandler) Unlock(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	exam, err := h.exams.UnlockExam(c.Request.Context(), id, callerFrom(c), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

// @Summary Lock exam
// @Tags exams
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} models.Exam
// @Router /api/v1/exams/{id}/lock [post]
func (h *ExamHandler) Lock(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	exam, err := h.exams.LockExam(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exam)
}

// @Summary Rank every subject of an exam
// @Tags ranking
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200
// @Router /api/v1/exams/{id}/rank [post]
func (h *ExamHandler) RankExam(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	counts, err := h.ranking.RankExam(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranked": counts})
}

// @Summary Rank one subject of an exam
// @Tags ranking
// @Produce json
// @Param id path string true "Exam ID"
// @Param subjectId path string true "Subject ID"
// @Success 200 {array} models.StudentMark
// @Router /api/v1/exams/{id}/subjects/{subjectId}/rank [post]
func (h *ExamHandler) RankSubject(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	subjectID, ok := uuidParam(c, "subjectId")
	if !ok {
		return
	}
	marks, err := h.ranking.RankSubject(c.Request.Context(), id, subjectID, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, marks)
}

// @Summary Exam analytics
// @Tags analytics
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} services.ExamAnalytics
// @Router /api/v1/exams/{id}/analytics [get]
func (h *ExamHandler) Analytics(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	report, err := h.analytics.ExamAnalytics(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// @Summary Student report for an exam
// @Tags analytics
// @Produce json
// @Param id path string true "Exam ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} services.StudentReport
// @Router /api/v1/exams/{id}/students/{studentId}/report [get]
func (h *ExamHandler) StudentReport(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	studentID, ok := uuidParam(c, "studentId")
	if !ok {
		return
	}
	report, err := h.analytics.StudentReport(c.Request.Context(), id, studentID, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
