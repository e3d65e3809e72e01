package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/school-system/exams/internal/repository"
	"github.com/school-system/exams/internal/services"
)

type MarksHandler struct {
	marks *services.MarksService
}

func NewMarksHandler(marks *services.MarksService) *MarksHandler {
	return &MarksHandler{marks: marks}
}

type BulkMarksRequest struct {
	ExamID  uuid.UUID            `json:"exam_id" binding:"required"`
	Entries []services.MarkEntry `json:"entries" binding:"required,min=1,max=500"`
}

// @Summary List marks of an exam
// @Tags marks
// @Produce json
// @Param id path string true "Exam ID"
// @Param subject_id query string false "Subject"
// @Param class_id query string false "Class"
// @Param student_id query string false "Student"
// @Success 200 {array} models.StudentMark
// @Router /api/v1/exams/{id}/marks [get]
func (h *MarksHandler) List(c *gin.Context) {
	examID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var filter repository.MarkFilter
	if filter.SubjectID, ok = optionalUUIDQuery(c, "subject_id"); !ok {
		return
	}
	if filter.ClassID, ok = optionalUUIDQuery(c, "class_id"); !ok {
		return
	}
	if filter.StudentID, ok = optionalUUIDQuery(c, "student_id"); !ok {
		return
	}

	marks, err := h.marks.ListMarks(c.Request.Context(), examID, filter, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, marks)
}

// @Summary Enter or correct a mark
// @Description Marks of completed or published exams can only be changed by an administrator; locked exams need ?override=true.
// @Tags marks
// @Accept json
// @Produce json
// @Param override query bool false "Administrator override"
// @Param request body services.MarkEntry true "Mark"
// @Success 200 {object} models.StudentMark
// @Router /api/v1/marks [post]
func (h *MarksHandler) Enter(c *gin.Context) {
	var entry services.MarkEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mark, err := h.marks.EnterMark(c.Request.Context(), entry, callerFrom(c), adminOverride(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mark)
}

// @Summary Enter marks in bulk
// @Tags marks
// @Accept json
// @Produce json
// @Param override query bool false "Administrator override"
// @Param request body BulkMarksRequest true "Marks"
// @Success 200
// @Router /api/v1/marks/bulk [post]
func (h *MarksHandler) EnterBulk(c *gin.Context) {
	var req BulkMarksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bulkResponse(c, h.marks.EnterMarksBulk(c.Request.Context(), req.ExamID, req.Entries, callerFrom(c), adminOverride(c)))
}

// @Summary Delete a mark
// @Tags marks
// @Produce json
// @Param id path string true "Mark ID"
// @Param override query bool false "Administrator override"
// @Success 200
// @Router /api/v1/marks/{id} [delete]
func (h *MarksHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.marks.DeleteMark(c.Request.Context(), id, callerFrom(c), adminOverride(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Mark deleted"})
}

// @Summary Delete marks in bulk
// @Tags marks
// @Accept json
// @Produce json
// @Param override query bool false "Administrator override"
// @Param request body IDsRequest true "Mark IDs"
// @Success 200
// @Router /api/v1/marks/bulk-delete [post]
func (h *MarksHandler) DeleteBulk(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bulkResponse(c, h.marks.DeleteMarksBulk(c.Request.Context(), req.IDs, callerFrom(c), adminOverride(c)))
}

// @Summary Submit marks to the class teacher
// @Tags marks
// @Accept json
// @Produce json
// @Param request body IDsRequest true "Mark IDs"
// @Success 200
// @Router /api/v1/marks/submit [post]
func (h *MarksHandler) Submit(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := h.marks.SubmitAs(c.Request.Context(), req.IDs, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	bulkResponse(c, results)
}

// @Summary Verify submitted marks
// @Tags marks
// @Accept json
// @Produce json
// @Param request body IDsRequest true "Mark IDs"
// @Success 200
// @Router /api/v1/marks/verify [post]
func (h *MarksHandler) Verify(c *gin.Context) {
	var req IDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := h.marks.VerifyAs(c.Request.Context(), req.IDs, callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	bulkResponse(c, results)
}
