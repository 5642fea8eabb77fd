package repository

import (
	"context"
	"time"

	"towing/internal/domain"
)

// RequestCondition is the precondition of a conditional update. Zero-valued
// fields are not checked.
type RequestCondition struct {
	Statuses           []domain.RequestStatus
	ProviderID         string // provider must equal this id
	ProviderUnassigned bool   // provider must be null
	ClientID           string
}

// RequestUpdate lists the columns a conditional update writes. Nil pointers
// leave the column unchanged; an empty Status keeps the current status.
type RequestUpdate struct {
	Status             domain.RequestStatus
	ProviderID         *string // pointer to "" clears the provider
	CancelReason       *string
	CancelledAt        *time.Time
	TollAmount         *float64
	SkatesUsed         *bool
	SkatesQty          *int
	SkatesAmount       *float64
	FinalAmount        *float64
	CommissionRate     *float64
	CommissionAmount   *float64
	ProblemType        *domain.ProblemType // also sets problem_reported
	ProblemDescription *string
}

// RequestRepository defines the persistence operations for towing requests.
type RequestRepository interface {
	// Create persists a new request.
	Create(ctx context.Context, req *domain.Request) error

	// GetByID retrieves a request by ID.
	GetByID(ctx context.Context, id string) (*domain.Request, error)

	// FindActiveByClient returns the newest non-terminal request of a client
	// created after since. Returns nil if none exists.
	FindActiveByClient(ctx context.Context, clientID string, since time.Time) (*domain.Request, error)

	// FindActiveByProvider returns the newest request the provider is working
	// on, created after since. Returns nil if none exists.
	FindActiveByProvider(ctx context.Context, providerID string, since time.Time) (*domain.Request, error)

	// FindDirectedTo returns the newest request directed to the provider.
	// Returns nil if none exists.
	FindDirectedTo(ctx context.Context, providerID string) (*domain.Request, error)

	// FindOpenPending returns unassigned pending requests, newest first.
	FindOpenPending(ctx context.Context, limit int) ([]*domain.Request, error)

	// ConditionalUpdate applies upd only when the row matches cond. It
	// reports false when no row matched; that is not an error.
	ConditionalUpdate(ctx context.Context, id string, cond RequestCondition, upd RequestUpdate) (bool, error)
}
