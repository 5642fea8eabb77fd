package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// Cache TTL constants
const (
	ActiveRequestCacheTTL = 10 * time.Second // status moves during a trip
	SettingCacheTTL       = 5 * time.Minute
)

// Key prefixes
const (
	activeRequestPrefix = "cache:provider-active:"
	settingPrefix       = "cache:setting:"
	onlineProvidersKey  = "online_providers"
)

// CachedActiveRequest is the slice of a request the position pipeline needs.
type CachedActiveRequest struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	OriginLat float64  `json:"origin_lat"`
	OriginLng float64  `json:"origin_lng"`
	DestLat   *float64 `json:"dest_lat,omitempty"`
	DestLng   *float64 `json:"dest_lng,omitempty"`
	None      bool     `json:"none,omitempty"` // negative entry: provider has no active request
}

// GetActiveRequest retrieves a provider's active request snapshot.
func (s *CacheStore) GetActiveRequest(ctx context.Context, providerID string) (*CachedActiveRequest, error) {
	data, err := s.client.Get(ctx, activeRequestPrefix+providerID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var req CachedActiveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// SetActiveRequest stores a provider's active request snapshot.
func (s *CacheStore) SetActiveRequest(ctx context.Context, providerID string, req *CachedActiveRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, activeRequestPrefix+providerID, data, ActiveRequestCacheTTL).Err()
}

// InvalidateActiveRequest removes the snapshot for each provider.
func (s *CacheStore) InvalidateActiveRequest(ctx context.Context, providerIDs ...string) error {
	if len(providerIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(providerIDs))
	for _, id := range providerIDs {
		if id != "" {
			keys = append(keys, activeRequestPrefix+id)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// GetSetting retrieves a cached configuration value. ok is false on a miss.
func (s *CacheStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, settingPrefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// SetSetting caches a configuration value.
func (s *CacheStore) SetSetting(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, settingPrefix+key, value, SettingCacheTTL).Err()
}

// AddOnlineProvider marks a provider as accepting work.
func (s *CacheStore) AddOnlineProvider(ctx context.Context, providerID string) error {
	return s.client.SAdd(ctx, onlineProvidersKey, providerID).Err()
}

// RemoveOnlineProvider removes a provider from the online set.
func (s *CacheStore) RemoveOnlineProvider(ctx context.Context, providerID string) error {
	return s.client.SRem(ctx, onlineProvidersKey, providerID).Err()
}

// FilterOnline returns the subset of ids currently online, preserving order.
func (s *CacheStore) FilterOnline(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.SIsMember(ctx, onlineProvidersKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	online := make([]string, 0, len(ids))
	for i, cmd := range cmds {
		if cmd.Val() {
			online = append(online, ids[i])
		}
	}
	return online, nil
}
