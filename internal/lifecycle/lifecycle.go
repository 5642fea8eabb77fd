// Package lifecycle holds the request status rules. It has no side effects;
// the service layer enforces the same rules again as update preconditions.
package lifecycle

import (
	"errors"
	"fmt"

	"towing/internal/domain"
)

// ErrIllegalTransition is wrapped by every TransitionError.
var ErrIllegalTransition = errors.New("illegal status transition")

// TransitionError reports a rejected status change.
type TransitionError struct {
	From domain.RequestStatus
	To   domain.RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move request from %q to %q", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

var transitions = map[domain.RequestStatus][]domain.RequestStatus{
	domain.RequestStatusPending: {
		domain.RequestStatusDirected,
		domain.RequestStatusInProgress,
		domain.RequestStatusCancelled,
	},
	domain.RequestStatusDirected: {
		domain.RequestStatusInProgress,
		domain.RequestStatusPending,
		domain.RequestStatusCancelled,
	},
	domain.RequestStatusInProgress: {domain.RequestStatusOnSite},
	domain.RequestStatusOnSite:     {domain.RequestStatusEnRoute},
	domain.RequestStatusEnRoute:    {domain.RequestStatusFinalized},
}

// gates lists the transitions that only a checklist submission may commit.
var gates = map[[2]domain.RequestStatus]domain.ChecklistPhase{
	{domain.RequestStatusOnSite, domain.RequestStatusEnRoute}:    domain.ChecklistPhaseStart,
	{domain.RequestStatusEnRoute, domain.RequestStatusFinalized}: domain.ChecklistPhaseEnd,
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to domain.RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate returns a *TransitionError when from -> to is not an edge.
func Validate(from, to domain.RequestStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Next returns the forward step a provider performs from the given status.
func Next(from domain.RequestStatus) (domain.RequestStatus, bool) {
	switch from {
	case domain.RequestStatusInProgress:
		return domain.RequestStatusOnSite, true
	case domain.RequestStatusOnSite:
		return domain.RequestStatusEnRoute, true
	case domain.RequestStatusEnRoute:
		return domain.RequestStatusFinalized, true
	}
	return "", false
}

// Gate returns the checklist phase guarding from -> to, if any.
func Gate(from, to domain.RequestStatus) (domain.ChecklistPhase, bool) {
	phase, ok := gates[[2]domain.RequestStatus{from, to}]
	return phase, ok
}

// GatedTransition returns the transition a checklist phase commits.
func GatedTransition(phase domain.ChecklistPhase) (from, to domain.RequestStatus, ok bool) {
	switch phase {
	case domain.ChecklistPhaseStart:
		return domain.RequestStatusOnSite, domain.RequestStatusEnRoute, true
	case domain.ChecklistPhaseEnd:
		return domain.RequestStatusEnRoute, domain.RequestStatusFinalized, true
	}
	return "", "", false
}

// Cancellable reports whether a request in status s may still be cancelled.
func Cancellable(s domain.RequestStatus) bool {
	return CanTransition(s, domain.RequestStatusCancelled)
}

// CancellableStatuses lists the statuses from which cancellation is legal.
func CancellableStatuses() []domain.RequestStatus {
	return []domain.RequestStatus{domain.RequestStatusPending, domain.RequestStatusDirected}
}
