package redis

import (
	"context"
	"time"

	"towing/internal/domain"
)

// LocationStoreInterface defines the interface for provider location operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, providerID string, lat, lng float64) error
	FindNearbyProviders(ctx context.Context, lat, lng, radiusKm float64) ([]ProviderLocation, error)
	RemoveLocation(ctx context.Context, providerID string) error
}

// LockStoreInterface defines the interface for in-flight mutation locks.
type LockStoreInterface interface {
	AcquireRequestLock(ctx context.Context, requestID, actorID string, ttl time.Duration) (string, error)
	ReleaseRequestLock(ctx context.Context, requestID, actorID, token string) error
}

// CacheStoreInterface defines the cache operations used by services.
type CacheStoreInterface interface {
	GetActiveRequest(ctx context.Context, providerID string) (*CachedActiveRequest, error)
	SetActiveRequest(ctx context.Context, providerID string, req *CachedActiveRequest) error
	InvalidateActiveRequest(ctx context.Context, providerIDs ...string) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	AddOnlineProvider(ctx context.Context, providerID string) error
	RemoveOnlineProvider(ctx context.Context, providerID string) error
	FilterOnline(ctx context.Context, ids []string) ([]string, error)
}

// Subscription is a live feed subscription. Events is closed when the
// subscription ends, for whatever reason.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Close() error
}

// FeedInterface defines the change feed operations.
type FeedInterface interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ CacheStoreInterface    = (*CacheStore)(nil)
	_ FeedInterface          = (*Feed)(nil)
)
