package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"towing/internal/domain"
	"towing/internal/middleware"
	"towing/internal/quote"
	"towing/internal/repository"
	"towing/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Status  string   `json:"current_status,omitempty"`
	Phase   string   `json:"phase,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error()}

	var conflict *service.ConflictError
	if errors.As(err, &conflict) && conflict.Current != nil {
		resp.Status = string(conflict.Current.Status)
	}
	var gate *service.GateError
	if errors.As(err, &gate) {
		resp.Phase = string(gate.Phase)
		resp.Missing = gate.Missing
	}

	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// actor returns the authenticated caller. Routes are always mounted behind
// middleware.Authenticate.
func actor(c *gin.Context) domain.Actor {
	a, _ := middleware.ActorFrom(c)
	return a
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	var (
		authErr     *quote.AuthenticationError
		upstreamErr *quote.UpstreamError
		invalidErr  *quote.InvalidResponseError
	)

	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidRequestID),
		errors.Is(err, service.ErrInvalidProviderID),
		errors.Is(err, service.ErrInvalidOrigin),
		errors.Is(err, service.ErrMissingDestination),
		errors.Is(err, service.ErrInvalidDestination),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidProblemType),
		errors.Is(err, service.ErrInvalidSkatesQuantity),
		errors.Is(err, service.ErrSkatesNotOffered),
		errors.Is(err, service.ErrInvalidToll),
		errors.Is(err, service.ErrInvalidPhase),
		errors.Is(err, service.ErrInvalidPricing):
		return http.StatusBadRequest

	// Checklist gate
	case errors.Is(err, service.ErrChecklistRequired):
		return http.StatusUnprocessableEntity

	// Conflict errors
	case errors.Is(err, service.ErrRequestUnavailable),
		errors.Is(err, service.ErrTransitionNotApplicable),
		errors.Is(err, service.ErrRequestCannotBeCancelled),
		errors.Is(err, service.ErrRequestNotFinalized),
		errors.Is(err, service.ErrOperationInProgress),
		errors.Is(err, service.ErrNoActiveRequest),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict

	// Forbidden/Business rule errors
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrNotAssignedProvider):
		return http.StatusForbidden

	// Pricing function failures
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &invalidErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
