package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/school-system/exams/internal/repository"
	"github.com/school-system/exams/internal/services"
)

type AuditHandler struct {
	audit *services.AuditService
}

func NewAuditHandler(audit *services.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// @Summary List audit log entries
// @Tags audit
// @Produce json
// @Param entity_type query string false "Entity type (exam, student_mark)"
// @Param entity_id query string false "Entity ID"
// @Param action query string false "Action"
// @Param limit query int false "Max entries (default 100)"
// @Success 200 {array} models.AuditLogEntry
// @Router /api/v1/audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	entityID, ok := optionalUUIDQuery(c, "entity_id")
	if !ok {
		return
	}
	schoolID, ok := optionalUUIDQuery(c, "school_id")
	if !ok {
		return
	}

	filter := repository.AuditFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   entityID,
		Action:     c.Query("action"),
		SchoolID:   schoolID,
		Limit:      limit,
	}

	entries, err := h.audit.List(c.Request.Context(), callerFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
