package service

import (
	"errors"
	"fmt"
	"strings"

	"towing/internal/domain"
)

var (
	// ErrInvalidRequestID is returned when request ID is empty.
	ErrInvalidRequestID = errors.New("invalid request id")

	// ErrInvalidProviderID is returned when provider ID is empty.
	ErrInvalidProviderID = errors.New("invalid provider id")

	// ErrInvalidOrigin is returned when pickup coordinates are invalid.
	ErrInvalidOrigin = errors.New("invalid origin")

	// ErrMissingDestination is returned when a request is created without destination.
	ErrMissingDestination = errors.New("destination is required")

	// ErrInvalidDestination is returned when destination coordinates are invalid.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrInvalidLocation is returned when a position fix is invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrRequestUnavailable is returned when a request can no longer be claimed.
	ErrRequestUnavailable = errors.New("request is no longer available")

	// ErrTransitionNotApplicable is returned when a status change does not apply to the current status.
	ErrTransitionNotApplicable = errors.New("transition not applicable")

	// ErrNotAssignedProvider is returned when the caller is not the provider of the request.
	ErrNotAssignedProvider = errors.New("provider not assigned to this request")

	// ErrRequestCannotBeCancelled is returned when the request is past the cancellable statuses.
	ErrRequestCannotBeCancelled = errors.New("request cannot be cancelled in current status")

	// ErrRequestNotFinalized is returned when a problem is reported on an unfinished request.
	ErrRequestNotFinalized = errors.New("request not finalized")

	// ErrInvalidProblemType is returned when the problem type is unknown.
	ErrInvalidProblemType = errors.New("invalid problem type")

	// ErrOperationInProgress is returned when the same actor already has a mutation in flight.
	ErrOperationInProgress = errors.New("operation already in progress")

	// ErrForbidden is returned when the caller may not act on the request.
	ErrForbidden = errors.New("forbidden")

	// ErrChecklistRequired is returned when a gated transition is attempted without checklist.
	ErrChecklistRequired = errors.New("checklist required")

	// ErrInvalidSkatesQuantity is returned when the skates quantity is out of range.
	ErrInvalidSkatesQuantity = errors.New("invalid skates quantity")

	// ErrSkatesNotOffered is returned when skates are billed by a provider that does not offer them.
	ErrSkatesNotOffered = errors.New("provider does not offer skates")

	// ErrInvalidToll is returned when the toll amount is negative.
	ErrInvalidToll = errors.New("invalid toll amount")

	// ErrInvalidPhase is returned when the checklist phase is unknown.
	ErrInvalidPhase = errors.New("invalid checklist phase")

	// ErrNoActiveRequest is returned when the caller has no active request.
	ErrNoActiveRequest = errors.New("no active request")

	// ErrInvalidPricing is returned when a price is negative.
	ErrInvalidPricing = errors.New("invalid pricing")
)

// ConflictError is returned when a conditional update lost a race. Current
// is the authoritative request read after the failed write, nil if it could
// not be read.
type ConflictError struct {
	Err     error
	Current *domain.Request
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (current status %s)", e.Err, e.Current.Status)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// GateError is returned when a gated transition is missing its checklist or
// the checklist is incomplete.
type GateError struct {
	Phase   domain.ChecklistPhase
	Missing []string
}

func (e *GateError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("checklist %q required", e.Phase)
	}
	return fmt.Sprintf("checklist %q incomplete: %s", e.Phase, strings.Join(e.Missing, ", "))
}

func (e *GateError) Unwrap() error { return ErrChecklistRequired }
