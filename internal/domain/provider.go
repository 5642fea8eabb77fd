package domain

import "time"

// ProviderStatus represents whether a provider accepts work.
type ProviderStatus string

const (
	ProviderStatusOnline  ProviderStatus = "online"
	ProviderStatusOffline ProviderStatus = "offline"
)

// Pricing holds the provider's own price table.
type Pricing struct {
	BasePrice    float64
	PerKm        float64
	PerMinute    float64
	ReturnBase   float64
	OffersSkates bool
	SkatesPrice  float64 // price per skate unit, 0 when not offered
}

// Provider represents a tow-truck operator.
type Provider struct {
	ID                string
	Name              string
	Phone             string
	Status            ProviderStatus
	Position          *Coordinates
	LocationUpdatedAt time.Time
	Pricing           Pricing
}

// Balance is the provider's financial rollup, maintained by settlement.
type Balance struct {
	ProviderID       string
	TotalCommissions float64
	TotalPayments    float64
	BalanceDue       float64
}
