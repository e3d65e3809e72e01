package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/school-system/exams/internal/authz"
	"github.com/school-system/exams/internal/services"
)

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUnauthorized), errors.Is(err, services.ErrTeacherEditForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrLockedExam):
		return http.StatusLocked
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrDependentDataExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("trace=%s internal error: %v", c.GetString("trace_id"), err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func callerFrom(c *gin.Context) authz.Caller {
	caller := authz.Caller{Name: c.GetString("user_name"), Role: c.GetString("user_role")}
	if v, ok := c.Get("user_id"); ok {
		caller.UserID, _ = v.(uuid.UUID)
	}
	return caller
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUIDQuery(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return nil, false
	}
	return &id, true
}

// adminOverride reads ?override=true.
func adminOverride(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.DefaultQuery("override", "false"))
	return v
}

// IDsRequest is the body of the bulk endpoints that act on ledger rows.
type IDsRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required,min=1,max=500"`
}

// bulkResponse reports per-item outcomes; the status is 200 when at least one
// item succeeded.
func bulkResponse(c *gin.Context, results []services.ItemResult) {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	status := http.StatusOK
	if succeeded == 0 && len(results) > 0 {
		status = statusFor(results[0].Err())
	}
	c.JSON(status, gin.H{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}
