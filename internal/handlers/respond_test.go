package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/school-system/exams/internal/services"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrUnauthorized, http.StatusForbidden},
		{services.ErrTeacherEditForbidden, http.StatusForbidden},
		{services.ErrLockedExam, http.StatusLocked},
		{services.ErrInvalidTransition, http.StatusConflict},
		{services.ErrDependentDataExists, http.StatusConflict},
		{services.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("exam 1: %w", services.ErrLockedExam), http.StatusLocked},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
