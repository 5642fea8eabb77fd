package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"towing/internal/config"
	"towing/internal/domain"
	"towing/internal/redis"
	"towing/internal/repository"
	"towing/internal/timer"
)

// offerExpiryTimeout bounds the implicit decline run when an offer expires.
const offerExpiryTimeout = 10 * time.Second

// DispatchService assigns requests to providers. Every assignment is a
// conditional update, so at most one provider ever wins a request.
type DispatchService struct {
	requests      repository.RequestRepository
	providers     repository.ProviderRepository
	locationStore redis.LocationStoreInterface
	cacheStore    redis.CacheStoreInterface
	feed          redis.FeedInterface
	notifications *NotificationService
	changes       changeNotifier
	guard         inFlightGuard
	cfg           config.DispatchConfig
	logger        *zap.Logger

	mu       sync.Mutex
	offers   map[string]*pendingOffer // one per provider
	declined *declineLog
}

type pendingOffer struct {
	slot      timer.Slot
	requestID string
}

// declineLog remembers the requests each provider declined or let expire
// during the current dispatch session.
type declineLog struct {
	mu  sync.Mutex
	ids map[string]map[string]struct{}
}

func newDeclineLog() *declineLog {
	return &declineLog{ids: make(map[string]map[string]struct{})}
}

func (l *declineLog) add(providerID, requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids, ok := l.ids[providerID]
	if !ok {
		ids = make(map[string]struct{})
		l.ids[providerID] = ids
	}
	ids[requestID] = struct{}{}
}

func (l *declineLog) has(providerID, requestID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[providerID][requestID]
	return ok
}

func (l *declineLog) reset(providerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ids, providerID)
}

// NewDispatchService creates a new DispatchService.
func NewDispatchService(
	requests repository.RequestRepository,
	providers repository.ProviderRepository,
	locationStore redis.LocationStoreInterface,
	lockStore redis.LockStoreInterface,
	cacheStore redis.CacheStoreInterface,
	feed redis.FeedInterface,
	notifications *NotificationService,
	cfg config.DispatchConfig,
	logger *zap.Logger,
) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		requests:      requests,
		providers:     providers,
		locationStore: locationStore,
		cacheStore:    cacheStore,
		feed:          feed,
		notifications: notifications,
		changes:       changeNotifier{feed: feed, cache: cacheStore, logger: logger},
		guard:         inFlightGuard{locks: lockStore, ttl: cfg.InFlightLockTTL, logger: logger},
		cfg:           cfg,
		logger:        logger,
		offers:        make(map[string]*pendingOffer),
		declined:      newDeclineLog(),
	}
}

// AssignDirected routes a pending request to one provider on behalf of an operator.
func (s *DispatchService) AssignDirected(ctx context.Context, actor domain.Actor, requestID, providerID string) (*domain.Request, error) {
	if actor.Role != domain.RoleOperator {
		return nil, ErrForbidden
	}
	if requestID == "" {
		return nil, ErrInvalidRequestID
	}
	if providerID == "" {
		return nil, ErrInvalidProviderID
	}

	if _, err := s.providers.GetByID(ctx, providerID); err != nil {
		return nil, err
	}

	err := s.guard.run(ctx, requestID, actor.ID, func() error {
		ok, err := s.requests.ConditionalUpdate(ctx, requestID,
			repository.RequestCondition{
				Statuses:           []domain.RequestStatus{domain.RequestStatusPending},
				ProviderUnassigned: true,
			},
			repository.RequestUpdate{
				Status:     domain.RequestStatusDirected,
				ProviderID: stringPtr(providerID),
			})
		if err != nil {
			return err
		}
		if !ok {
			return lostRace(ctx, s.requests, requestID, ErrRequestUnavailable)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("request directed",
		zap.String("request_id", requestID),
		zap.String("provider_id", providerID),
		zap.String("operator_id", actor.ID))

	s.changes.requestChanged(ctx, req, domain.ChangeUpdate)
	if s.notifications != nil {
		s.notifications.NotifyDirected(ctx, req)
	}
	return req, nil
}

// Claim takes an unassigned pending request from the pool. Losing the race
// returns a *ConflictError wrapping ErrRequestUnavailable.
func (s *DispatchService) Claim(ctx context.Context, providerID, requestID string) (*domain.Request, error) {
	return s.commit(ctx, providerID, requestID,
		repository.RequestCondition{
			Statuses:           []domain.RequestStatus{domain.RequestStatusPending},
			ProviderUnassigned: true,
		},
		repository.RequestUpdate{
			Status:     domain.RequestStatusInProgress,
			ProviderID: stringPtr(providerID),
		},
		"request claimed")
}

// Accept takes a request an operator directed to the provider.
func (s *DispatchService) Accept(ctx context.Context, providerID, requestID string) (*domain.Request, error) {
	return s.commit(ctx, providerID, requestID,
		repository.RequestCondition{
			Statuses:   []domain.RequestStatus{domain.RequestStatusDirected},
			ProviderID: providerID,
		},
		repository.RequestUpdate{Status: domain.RequestStatusInProgress},
		"request accepted")
}

func (s *DispatchService) commit(
	ctx context.Context,
	providerID, requestID string,
	cond repository.RequestCondition,
	upd repository.RequestUpdate,
	logMsg string,
) (*domain.Request, error) {
	if providerID == "" {
		return nil, ErrInvalidProviderID
	}
	if requestID == "" {
		return nil, ErrInvalidRequestID
	}
	s.CancelOffer(providerID, requestID)

	err := s.guard.run(ctx, requestID, providerID, func() error {
		ok, err := s.requests.ConditionalUpdate(ctx, requestID, cond, upd)
		if err != nil {
			return err
		}
		if !ok {
			return lostRace(ctx, s.requests, requestID, ErrRequestUnavailable)
		}
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.logger.Debug("assignment race lost",
				zap.String("request_id", requestID),
				zap.String("provider_id", providerID))
		}
		return nil, err
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	s.logger.Info(logMsg,
		zap.String("request_id", requestID),
		zap.String("provider_id", providerID))

	s.changes.requestChanged(ctx, req, domain.ChangeUpdate)
	if s.notifications != nil {
		s.notifications.NotifyAccepted(ctx, req)
	}
	return req, nil
}

// Decline refuses a request. A directed request returns to the pool; an
// unassigned pending request is left untouched. Either way the request is
// not offered to this provider again in the current session.
func (s *DispatchService) Decline(ctx context.Context, providerID, requestID string) (*domain.Request, error) {
	if providerID == "" {
		return nil, ErrInvalidProviderID
	}
	if requestID == "" {
		return nil, ErrInvalidRequestID
	}
	s.CancelOffer(providerID, requestID)

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch {
	case req.Status == domain.RequestStatusPending && req.ProviderID == "":
		s.declined.add(providerID, requestID)
		return req, nil
	case req.Status == domain.RequestStatusDirected && req.ProviderID == providerID:
	default:
		return nil, &ConflictError{Err: ErrTransitionNotApplicable, Current: req}
	}

	err = s.guard.run(ctx, requestID, providerID, func() error {
		ok, err := s.requests.ConditionalUpdate(ctx, requestID,
			repository.RequestCondition{
				Statuses:   []domain.RequestStatus{domain.RequestStatusDirected},
				ProviderID: providerID,
			},
			repository.RequestUpdate{
				Status:     domain.RequestStatusPending,
				ProviderID: stringPtr(""),
			})
		if err != nil {
			return err
		}
		if !ok {
			return lostRace(ctx, s.requests, requestID, ErrTransitionNotApplicable)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.declined.add(providerID, requestID)

	if req, err = s.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}

	s.logger.Info("directed request declined",
		zap.String("request_id", requestID),
		zap.String("provider_id", providerID))

	s.changes.requestChanged(ctx, req, domain.ChangeUpdate, providerID)
	return req, nil
}

// Offer starts the decision window of a request surfaced to a provider.
// Reaching the deadline declines the request. A new offer replaces the
// provider's previous one.
func (s *DispatchService) Offer(providerID, requestID string) time.Time {
	window := s.cfg.OfferWindow
	deadline := time.Now().Add(window)

	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[providerID]
	if !ok {
		offer = &pendingOffer{}
		s.offers[providerID] = offer
	}
	offer.requestID = requestID
	offer.slot.Schedule(window, func() {
		ctx, cancel := context.WithTimeout(context.Background(), offerExpiryTimeout)
		defer cancel()

		if _, err := s.Decline(ctx, providerID, requestID); err != nil {
			s.logger.Debug("offer expiry decline not applied",
				zap.String("request_id", requestID),
				zap.String("provider_id", providerID),
				zap.Error(err))
			return
		}
		s.logger.Info("offer expired",
			zap.String("request_id", requestID),
			zap.String("provider_id", providerID))
	})
	return deadline
}

// CancelOffer stops the provider's pending offer timer when it belongs to
// requestID. It reports whether a timer was stopped.
func (s *DispatchService) CancelOffer(providerID, requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[providerID]
	if !ok || offer.requestID != requestID {
		return false
	}
	return offer.slot.Cancel()
}

// NearbyProviders returns online providers around a point, nearest first.
func (s *DispatchService) NearbyProviders(ctx context.Context, lat, lng, radiusKm float64) ([]redis.ProviderLocation, error) {
	if radiusKm <= 0 {
		radiusKm = s.cfg.NotifyRadiusKm
	}

	nearby, err := s.locationStore.FindNearbyProviders(ctx, lat, lng, radiusKm)
	if err != nil {
		return nil, err
	}
	if s.cacheStore == nil || len(nearby) == 0 {
		return nearby, nil
	}

	ids := make([]string, len(nearby))
	for i, loc := range nearby {
		ids[i] = loc.ProviderID
	}
	online, err := s.cacheStore.FilterOnline(ctx, ids)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(online))
	for _, id := range online {
		keep[id] = true
	}
	filtered := make([]redis.ProviderLocation, 0, len(online))
	for _, loc := range nearby {
		if keep[loc.ProviderID] {
			filtered = append(filtered, loc)
		}
	}
	return filtered, nil
}
