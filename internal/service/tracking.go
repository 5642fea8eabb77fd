package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"towing/internal/config"
	"towing/internal/domain"
	"towing/internal/geo"
	"towing/internal/redis"
	"towing/internal/repository"
	"towing/internal/tracking"
)

// TrackingService owns provider presence and positions. It is the only
// writer of provider coordinates.
type TrackingService struct {
	providers     repository.ProviderRepository
	requests      repository.RequestRepository
	locationStore redis.LocationStoreInterface
	cacheStore    redis.CacheStoreInterface
	feed          redis.FeedInterface
	cfg           config.TrackingConfig
	lookback      time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	sessions map[string]*trackingSession
}

type trackingSession struct {
	mu        sync.Mutex
	requestID string
	estimator *tracking.Estimator
	throttle  *tracking.Throttle
}

// NewTrackingService creates a new TrackingService.
func NewTrackingService(
	providers repository.ProviderRepository,
	requests repository.RequestRepository,
	locationStore redis.LocationStoreInterface,
	cacheStore redis.CacheStoreInterface,
	feed redis.FeedInterface,
	cfg config.TrackingConfig,
	lookback time.Duration,
	logger *zap.Logger,
) *TrackingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingService{
		providers:     providers,
		requests:      requests,
		locationStore: locationStore,
		cacheStore:    cacheStore,
		feed:          feed,
		cfg:           cfg,
		lookback:      lookback,
		logger:        logger,
		sessions:      make(map[string]*trackingSession),
	}
}

func (s *TrackingService) estimatorConfig() tracking.EstimatorConfig {
	return tracking.EstimatorConfig{
		HeadingNoiseFloorM: s.cfg.HeadingNoiseFloorM,
		SpeedWindow:        s.cfg.SpeedWindow,
		MinSpeedSamples:    s.cfg.MinSpeedSamples,
		MinSpeedKmh:        s.cfg.MinSpeedKmh,
		MaxSpeedKmh:        s.cfg.MaxSpeedKmh,
		FallbackSpeedKmh:   s.cfg.FallbackSpeedKmh,
		MaxSampleGap:       s.cfg.MaxSampleGap,
	}
}

func (s *TrackingService) session(providerID string) *trackingSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[providerID]
	if !ok {
		sess = &trackingSession{
			estimator: tracking.NewEstimator(s.estimatorConfig()),
			throttle: tracking.NewThrottle(tracking.ThrottleConfig{
				MinInterval:  s.cfg.PersistMinInterval,
				MaxInterval:  s.cfg.PersistMaxInterval,
				MinDistanceM: s.cfg.PersistMinDistanceM,
			}),
		}
		s.sessions[providerID] = sess
	}
	return sess
}

// EndSession drops the estimator state of a provider.
func (s *TrackingService) EndSession(providerID string) {
	s.mu.Lock()
	delete(s.sessions, providerID)
	s.mu.Unlock()
}

// SetOnline switches a provider online or offline. An online switch with a
// position also indexes it for proximity search.
func (s *TrackingService) SetOnline(ctx context.Context, providerID string, online bool, position *domain.Coordinates) error {
	if providerID == "" {
		return ErrInvalidProviderID
	}

	if !online {
		if err := s.providers.SetStatus(ctx, providerID, domain.ProviderStatusOffline); err != nil {
			return err
		}
		if err := s.locationStore.RemoveLocation(ctx, providerID); err != nil {
			return err
		}
		if s.cacheStore != nil {
			if err := s.cacheStore.RemoveOnlineProvider(ctx, providerID); err != nil {
				return err
			}
		}
		s.EndSession(providerID)
		s.logger.Info("provider offline", zap.String("provider_id", providerID))
		s.publishProvider(ctx, providerID, nil)
		return nil
	}

	if position != nil {
		if !geo.ValidPoint(position.Lat, position.Lng) {
			return ErrInvalidLocation
		}
		if err := s.persistPosition(ctx, providerID, position.Lat, position.Lng, time.Now()); err != nil {
			return err
		}
	}
	if err := s.providers.SetStatus(ctx, providerID, domain.ProviderStatusOnline); err != nil {
		return err
	}
	if s.cacheStore != nil {
		if err := s.cacheStore.AddOnlineProvider(ctx, providerID); err != nil {
			return err
		}
	}

	s.logger.Info("provider online", zap.String("provider_id", providerID))
	s.publishProvider(ctx, providerID, nil)
	return nil
}

// UpdatePricing replaces a provider's price table.
func (s *TrackingService) UpdatePricing(ctx context.Context, providerID string, pricing domain.Pricing) error {
	if providerID == "" {
		return ErrInvalidProviderID
	}
	for _, v := range []float64{pricing.BasePrice, pricing.PerKm, pricing.PerMinute, pricing.ReturnBase, pricing.SkatesPrice} {
		if v < 0 {
			return ErrInvalidPricing
		}
	}
	if !pricing.OffersSkates {
		pricing.SkatesPrice = 0
	}
	return s.providers.UpdatePricing(ctx, providerID, pricing)
}

// Balance returns the provider's financial rollup.
func (s *TrackingService) Balance(ctx context.Context, providerID string) (*domain.Balance, error) {
	if providerID == "" {
		return nil, ErrInvalidProviderID
	}
	return s.providers.GetBalance(ctx, providerID)
}

// IngestFix feeds a raw position fix through the estimator, persists it when
// the throttle lets it through, and broadcasts the estimate.
func (s *TrackingService) IngestFix(ctx context.Context, providerID string, fix domain.Fix) (*tracking.Estimate, error) {
	if providerID == "" {
		return nil, ErrInvalidProviderID
	}
	if !geo.ValidPoint(fix.Lat, fix.Lng) {
		return nil, ErrInvalidLocation
	}
	if fix.At.IsZero() {
		fix.At = time.Now()
	}

	active, err := s.activeRequest(ctx, providerID)
	if err != nil {
		return nil, err
	}

	sess := s.session(providerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var target *domain.Coordinates
	activeID := ""
	if active != nil {
		activeID = active.ID
		if t, ok := active.target(); ok {
			target = &t
		}
	}
	if sess.requestID != activeID {
		sess.estimator = tracking.NewEstimator(s.estimatorConfig())
		sess.requestID = activeID
	}

	est := sess.estimator.Observe(fix, target)

	if sess.throttle.ShouldSend(fix) {
		if err := s.persistPosition(ctx, providerID, fix.Lat, fix.Lng, fix.At); err != nil {
			return nil, err
		}
		sess.throttle.MarkSent(fix)
	} else {
		s.logger.Debug("position throttled", zap.String("provider_id", providerID))
	}

	s.publishProvider(ctx, providerID, &domain.Position{
		Lat:             est.Lat,
		Lng:             est.Lng,
		Heading:         est.Heading,
		HasHeading:      est.HasHeading,
		EtaMinutes:      est.EtaMinutes,
		RemainingMeters: est.RemainingMeters,
		RequestID:       activeID,
	})
	return &est, nil
}

func (s *TrackingService) persistPosition(ctx context.Context, providerID string, lat, lng float64, at time.Time) error {
	if err := s.providers.UpdatePosition(ctx, providerID, lat, lng, at); err != nil {
		return err
	}
	return s.locationStore.UpdateLocation(ctx, providerID, lat, lng)
}

func (s *TrackingService) publishProvider(ctx context.Context, providerID string, pos *domain.Position) {
	if s.feed == nil {
		return
	}
	ev := domain.ChangeEvent{
		Table:      domain.TableProviders,
		Kind:       domain.ChangeUpdate,
		RowID:      providerID,
		ProviderID: providerID,
		Position:   pos,
		At:         time.Now(),
	}
	if err := s.feed.Publish(ctx, ev); err != nil {
		s.logger.Debug("provider feed publish failed", zap.String("provider_id", providerID), zap.Error(err))
	}
}

// activeSnapshot is the part of the active request the estimator needs.
type activeSnapshot struct {
	redis.CachedActiveRequest
}

func (a activeSnapshot) target() (domain.Coordinates, bool) {
	req := domain.Request{
		Status: domain.RequestStatus(a.Status),
		Origin: domain.Coordinates{Lat: a.OriginLat, Lng: a.OriginLng},
	}
	if a.DestLat != nil && a.DestLng != nil {
		req.Destination = &domain.Coordinates{Lat: *a.DestLat, Lng: *a.DestLng}
	}
	return req.Target()
}

// activeRequest resolves the provider's active request through the
// snapshot cache. Returns nil if none exists.
func (s *TrackingService) activeRequest(ctx context.Context, providerID string) (*activeSnapshot, error) {
	if s.cacheStore != nil {
		cached, err := s.cacheStore.GetActiveRequest(ctx, providerID)
		if err != nil {
			s.logger.Debug("active request cache read failed", zap.String("provider_id", providerID), zap.Error(err))
		} else if cached != nil {
			if cached.None {
				return nil, nil
			}
			return &activeSnapshot{*cached}, nil
		}
	}

	req, err := s.requests.FindActiveByProvider(ctx, providerID, time.Now().Add(-s.lookback))
	if err != nil {
		return nil, err
	}

	snap := &redis.CachedActiveRequest{None: true}
	if req != nil {
		snap = &redis.CachedActiveRequest{
			ID:        req.ID,
			Status:    string(req.Status),
			OriginLat: req.Origin.Lat,
			OriginLng: req.Origin.Lng,
		}
		if req.Destination != nil {
			snap.DestLat = &req.Destination.Lat
			snap.DestLng = &req.Destination.Lng
		}
	}
	if s.cacheStore != nil {
		if err := s.cacheStore.SetActiveRequest(ctx, providerID, snap); err != nil {
			s.logger.Debug("active request cache write failed", zap.String("provider_id", providerID), zap.Error(err))
		}
	}

	if snap.None {
		return nil, nil
	}
	return &activeSnapshot{*snap}, nil
}

// WatchProvider emits the positions of one provider from the change feed,
// with a poll of the persisted position as fallback, until ctx ends.
func (s *TrackingService) WatchProvider(ctx context.Context, providerID string, emit func(domain.Position)) error {
	interval := s.cfg.PersistMinInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	var emitMu sync.Mutex
	send := func(p domain.Position) {
		emitMu.Lock()
		defer emitMu.Unlock()
		emit(p)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last time.Time
		for {
			p, err := s.providers.GetByID(ctx, providerID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("provider position poll failed", zap.String("provider_id", providerID), zap.Error(err))
			} else if p.Position != nil && p.LocationUpdatedAt.After(last) {
				last = p.LocationUpdatedAt
				send(s.polledPosition(ctx, p))
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	g.Go(func() error {
		if s.feed == nil {
			return nil
		}
		topic := redis.RowTopic(domain.TableProviders, providerID)
		for {
			sub, err := s.feed.Subscribe(ctx, topic)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("position feed unavailable, polling only", zap.String("provider_id", providerID), zap.Error(err))
			} else {
				for ev := range sub.Events() {
					if ev.Position != nil {
						send(*ev.Position)
					}
				}
				_ = sub.Close()
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
	})

	return g.Wait()
}

// polledPosition builds a position from the persisted row. The ETA uses the
// fallback speed since no speed window is available here.
func (s *TrackingService) polledPosition(ctx context.Context, p *domain.Provider) domain.Position {
	pos := domain.Position{Lat: p.Position.Lat, Lng: p.Position.Lng}

	active, err := s.activeRequest(ctx, p.ID)
	if err != nil || active == nil {
		return pos
	}
	pos.RequestID = active.ID
	if t, ok := active.target(); ok {
		pos.RemainingMeters = geo.DistanceMeters(pos.Lat, pos.Lng, t.Lat, t.Lng)
		pos.EtaMinutes = tracking.EtaMinutes(pos.RemainingMeters, s.cfg.FallbackSpeedKmh)
	}
	return pos
}
