package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/school-system/exams/internal/middleware"
	"github.com/school-system/exams/internal/services"
)

type AcademicHandler struct {
	academic *services.AcademicService
}

func NewAcademicHandler(academic *services.AcademicService) *AcademicHandler {
	return &AcademicHandler{academic: academic}
}

// @Summary Create academic year
// @Tags academic
// @Accept json
// @Produce json
// @Param request body services.AcademicYearInput true "Academic year"
// @Success 201 {object} models.AcademicYear
// @Router /api/v1/academic-years [post]
func (h *AcademicHandler) CreateYear(c *gin.Context) {
	schoolID, ok := middleware.TenantSchoolID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "school_id is required"})
		return
	}
	var in services.AcademicYearInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	year, err := h.academic.CreateAcademicYear(c.Request.Context(), schoolID, in, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, year)
}

// @Summary Make an academic year current
// @Tags academic
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} models.TenantCalendar
// @Router /api/v1/academic-years/{id}/current [post]
func (h *AcademicHandler) SetCurrentYear(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	cal, err := h.academic.SetCurrentYear(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cal)
}

// @Summary Delete academic year
// @Description Refused with 409 while terms or exams reference the year.
// @Tags academic
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200
// @Router /api/v1/academic-years/{id} [delete]
func (h *AcademicHandler) DeleteYear(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.academic.DeleteAcademicYear(c.Request.Context(), id, callerFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Academic year deleted"})
}

// @Summary Create term
// @Tags academic
// @Accept json
// @Produce json
// @Param request body services.TermInput true "Term"
// @Success 201 {object} models.Term
// @Router /api/v1/terms [post]
func (h *AcademicHandler) CreateTerm(c *gin.Context) {
	schoolID, ok := middleware.TenantSchoolID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "school_id is required"})
		return
	}
	var in services.TermInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	term, err := h.academic.CreateTerm(c.Request.Context(), schoolID, in, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, term)
}

// @Summary Make a term current
// @Tags academic
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} models.TenantCalendar
// @Router /api/v1/terms/{id}/current [post]
func (h *AcademicHandler) SetCurrentTerm(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	cal, err := h.academic.SetCurrentTerm(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cal)
}

// @Summary Current academic year and term
// @Tags academic
// @Produce json
// @Success 200 {object} models.TenantCalendar
// @Router /api/v1/calendar [get]
func (h *AcademicHandler) Calendar(c *gin.Context) {
	schoolID, ok := middleware.TenantSchoolID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "school_id is required"})
		return
	}
	cal, err := h.academic.GetCalendar(c.Request.Context(), schoolID, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cal)
}
