package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"towing/internal/domain"
	"towing/internal/quote"
	"towing/internal/repository"
	"towing/internal/service"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("load client: %w", repository.ErrNotFound), http.StatusNotFound},
		{"validation", service.ErrMissingDestination, http.StatusBadRequest},
		{"skates", service.ErrSkatesNotOffered, http.StatusBadRequest},
		{"gate", &service.GateError{Phase: domain.ChecklistPhaseStart}, http.StatusUnprocessableEntity},
		{"lost claim", &service.ConflictError{Err: service.ErrRequestUnavailable}, http.StatusConflict},
		{"in flight", service.ErrOperationInProgress, http.StatusConflict},
		{"forbidden", service.ErrForbidden, http.StatusForbidden},
		{"not assigned", service.ErrNotAssignedProvider, http.StatusForbidden},
		{"quote session", fmt.Errorf("cannot create request: %w", &quote.AuthenticationError{}), http.StatusUnauthorized},
		{"quote invalid", &quote.InvalidResponseError{Field: "distance_km"}, http.StatusUnprocessableEntity},
		{"quote upstream", &quote.UpstreamError{Status: 503, Message: "unavailable"}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapErrorToHTTPStatus(tt.err))
		})
	}
}

func TestRespondError_Body(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("conflict carries current status", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		respondError(c, &service.ConflictError{
			Err:     service.ErrRequestUnavailable,
			Current: &domain.Request{ID: "req-1", Status: domain.RequestStatusInProgress},
		})

		require.Equal(t, http.StatusConflict, w.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "em_andamento", body.Status)
	})

	t.Run("gate carries phase and missing items", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		respondError(c, &service.GateError{Phase: domain.ChecklistPhaseEnd, Missing: []string{"rear_photo"}})

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "fim", body.Phase)
		assert.Equal(t, []string{"rear_photo"}, body.Missing)
	})
}
