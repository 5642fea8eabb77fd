package repository

import (
	"context"
	"time"

	"towing/internal/domain"
)

// ProviderRepository defines the persistence operations for providers.
type ProviderRepository interface {
	// GetByID retrieves a provider by ID.
	GetByID(ctx context.Context, id string) (*domain.Provider, error)

	// SetStatus switches a provider online or offline.
	SetStatus(ctx context.Context, id string, status domain.ProviderStatus) error

	// UpdatePosition stores the last persisted position.
	UpdatePosition(ctx context.Context, id string, lat, lng float64, at time.Time) error

	// UpdatePricing replaces the provider's price table.
	UpdatePricing(ctx context.Context, id string, pricing domain.Pricing) error

	// GetBalance reads the financial rollup view.
	GetBalance(ctx context.Context, id string) (*domain.Balance, error)
}

// ClientRepository defines the persistence operations for clients.
type ClientRepository interface {
	// GetByID retrieves a client by ID.
	GetByID(ctx context.Context, id string) (*domain.Client, error)
}

// SettingsRepository reads operator-managed configuration values.
type SettingsRepository interface {
	// Get returns the raw value of key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
}
