package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"towing/internal/domain"
	"towing/internal/redis"
	"towing/internal/repository"
)

// changeNotifier fans a committed request change out to the feed and drops
// stale provider snapshots. Both are best effort; the poll fallback of every
// consumer covers a lost publish.
type changeNotifier struct {
	feed   redis.FeedInterface
	cache  redis.CacheStoreInterface
	logger *zap.Logger
}

func (c changeNotifier) requestChanged(ctx context.Context, req *domain.Request, kind domain.ChangeKind, providerIDs ...string) {
	if c.cache != nil {
		ids := append([]string{req.ProviderID}, providerIDs...)
		if err := c.cache.InvalidateActiveRequest(ctx, ids...); err != nil {
			c.logger.Warn("active request cache invalidation failed",
				zap.String("request_id", req.ID), zap.Error(err))
		}
	}

	if c.feed == nil {
		return
	}
	ev := domain.ChangeEvent{
		Table:      domain.TableRequests,
		Kind:       kind,
		RowID:      req.ID,
		Status:     req.Status,
		ProviderID: req.ProviderID,
		At:         time.Now(),
	}
	if err := c.feed.Publish(ctx, ev); err != nil {
		c.logger.Warn("feed publish failed",
			zap.String("request_id", req.ID), zap.Error(err))
	}
}

// inFlightGuard rejects a second concurrent mutation of the same request by
// the same actor.
type inFlightGuard struct {
	locks  redis.LockStoreInterface
	ttl    time.Duration
	logger *zap.Logger
}

func (g inFlightGuard) run(ctx context.Context, requestID, actorID string, fn func() error) error {
	if g.locks == nil {
		return fn()
	}

	token, err := g.locks.AcquireRequestLock(ctx, requestID, actorID, g.ttl)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrOperationInProgress
	}
	defer func() {
		if err := g.locks.ReleaseRequestLock(context.WithoutCancel(ctx), requestID, actorID, token); err != nil {
			g.logger.Warn("in-flight lock release failed",
				zap.String("request_id", requestID), zap.Error(err))
		}
	}()

	return fn()
}

// lostRace re-reads the authoritative row after a conditional update matched
// nothing and reports it with cause.
func lostRace(ctx context.Context, requests repository.RequestRepository, id string, cause error) error {
	current, err := requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		current = nil
	}
	return &ConflictError{Err: cause, Current: current}
}

func stringPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
