package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	replayedHeader     = "Idempotent-Replayed"
	idempotencyTTL     = 24 * time.Hour
	idempotencyPending = 30 * time.Second
	pendingMarker      = "pending"
)

// StoredResponse is a mutation result kept for replay.
type StoredResponse struct {
	StatusCode  int             `json:"status_code"`
	ContentType string          `json:"content_type"`
	Body        json.RawMessage `json:"body"`
}

// IdempotencyStore keeps one slot per idempotency key. Reserve claims an
// empty slot; Load returns nil while the slot is reserved but not yet saved.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Load(ctx context.Context, key string) (*StoredResponse, error)
	Save(ctx context.Context, key string, resp *StoredResponse) error
	Release(ctx context.Context, key string) error
}

// RedisIdempotencyStore is the Redis implementation of IdempotencyStore.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore creates a new RedisIdempotencyStore.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Reserve claims the slot with a short-lived pending marker.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, key, pendingMarker, idempotencyPending).Result()
}

// Load returns the stored response, or nil while the slot is pending or empty.
func (s *RedisIdempotencyStore) Load(ctx context.Context, key string) (*StoredResponse, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) || string(data) == pendingMarker {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var resp StoredResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &resp, nil
}

// Save stores the response for replay.
func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, resp *StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, idempotencyTTL).Err()
}

// Release frees the slot so a retry runs again.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// captureWriter tees the response body so it can be stored.
type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency returns middleware that replays the stored result of a mutation
// retried with the same Idempotency-Key, and rejects a retry that arrives
// while the first attempt is still running. Keys are scoped to the caller and
// the route, so it must run after Authenticate. Conflicts and server errors
// are not stored: a retry must see the state produced by whoever won.
func Idempotency(store IdempotencyStore, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" || store == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		slot := idempotencyKey(c, key)

		reserved, err := store.Reserve(ctx, slot)
		if err != nil {
			logger.Warn("idempotency store unavailable", zap.String("key", slot), zap.Error(err))
			c.Next()
			return
		}

		if !reserved {
			stored, err := store.Load(ctx, slot)
			if err != nil {
				logger.Warn("idempotency replay failed", zap.String("key", slot), zap.Error(err))
				c.Next()
				return
			}
			if stored == nil {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "operation already in progress"})
				return
			}
			c.Header(replayedHeader, "true")
			c.Data(stored.StatusCode, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w

		c.Next()

		bg := context.WithoutCancel(ctx)
		status := w.Status()
		if status >= http.StatusInternalServerError || status == http.StatusConflict {
			if err := store.Release(bg, slot); err != nil {
				logger.Warn("idempotency release failed", zap.String("key", slot), zap.Error(err))
			}
			return
		}

		err = store.Save(bg, slot, &StoredResponse{
			StatusCode:  status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		})
		if err != nil {
			logger.Warn("idempotency save failed", zap.String("key", slot), zap.Error(err))
		}
	}
}

func idempotencyKey(c *gin.Context, key string) string {
	actorID := "anonymous"
	if actor, ok := ActorFrom(c); ok {
		actorID = actor.ID
	}
	return fmt.Sprintf("idempotency:%s:%s:%s:%s", actorID, c.Request.Method, c.FullPath(), key)
}
