package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"towing/internal/config"
	"towing/internal/domain"
	"towing/internal/geo"
	"towing/internal/lifecycle"
	"towing/internal/quote"
	"towing/internal/redis"
	"towing/internal/repository"
)

// Quoter computes a price quote for a trip.
// This interface allows for testing with mock implementations.
type Quoter interface {
	Compute(ctx context.Context, p quote.Params) (*domain.Quote, error)
}

// Ensure quote.Client implements Quoter.
var _ Quoter = (*quote.Client)(nil)

// RequestService handles the client side of towing requests.
type RequestService struct {
	requests      repository.RequestRepository
	clients       repository.ClientRepository
	messages      repository.MessageRepository
	quoter        Quoter
	settings      *SettingsService
	locationStore redis.LocationStoreInterface
	cacheStore    redis.CacheStoreInterface
	notifications *NotificationService
	changes       changeNotifier
	guard         inFlightGuard
	cfg           config.DispatchConfig
	logger        *zap.Logger
}

// NewRequestService creates a new RequestService.
func NewRequestService(
	requests repository.RequestRepository,
	clients repository.ClientRepository,
	messages repository.MessageRepository,
	quoter Quoter,
	settings *SettingsService,
	locationStore redis.LocationStoreInterface,
	lockStore redis.LockStoreInterface,
	cacheStore redis.CacheStoreInterface,
	feed redis.FeedInterface,
	notifications *NotificationService,
	cfg config.DispatchConfig,
	logger *zap.Logger,
) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		requests:      requests,
		clients:       clients,
		messages:      messages,
		quoter:        quoter,
		settings:      settings,
		locationStore: locationStore,
		cacheStore:    cacheStore,
		notifications: notifications,
		changes:       changeNotifier{feed: feed, cache: cacheStore, logger: logger},
		guard:         inFlightGuard{locks: lockStore, ttl: cfg.InFlightLockTTL, logger: logger},
		cfg:           cfg,
		logger:        logger,
	}
}

// CreateRequestInput contains the parameters for creating a request.
type CreateRequestInput struct {
	ClientID           string // set by operators creating on behalf of a client
	GuestName          string
	OriginAddress      string
	Origin             domain.Coordinates
	DestinationAddress string
	Destination        *domain.Coordinates
}

// Quote returns a price preview without creating anything.
func (s *RequestService) Quote(ctx context.Context, origin domain.Coordinates, destination *domain.Coordinates) (*domain.Quote, error) {
	if err := validateRoute(origin, destination); err != nil {
		return nil, err
	}
	return s.quoter.Compute(ctx, quote.Params{Origin: origin, Destination: *destination})
}

// Create quotes the trip and stores a new pending request.
func (s *RequestService) Create(ctx context.Context, actor domain.Actor, in CreateRequestInput) (*domain.Request, error) {
	clientID, err := s.resolveClient(actor, in)
	if err != nil {
		return nil, err
	}
	if err := validateRoute(in.Origin, in.Destination); err != nil {
		return nil, err
	}

	var client *domain.Client
	if clientID != "" {
		client, err = s.clients.GetByID(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("load client: %w", err)
		}
	}

	q, err := s.quoter.Compute(ctx, quote.Params{Origin: in.Origin, Destination: *in.Destination})
	if err != nil {
		return nil, fmt.Errorf("cannot create request: %w", err)
	}

	agencyID := q.AgencyID
	if client != nil && client.AgencyID != "" {
		agencyID = client.AgencyID
	}
	amount := q.Amount
	switch {
	case agencyID != "":
		amount = 0
	case q.AmountMissing:
		return nil, fmt.Errorf("cannot create request: %w", &quote.InvalidResponseError{Field: "amount"})
	}

	dest := *in.Destination
	now := time.Now()
	req := &domain.Request{
		ID:                 uuid.New().String(),
		ClientID:           clientID,
		GuestName:          strings.TrimSpace(in.GuestName),
		AgencyID:           agencyID,
		OriginAddress:      in.OriginAddress,
		Origin:             in.Origin,
		DestinationAddress: in.DestinationAddress,
		Destination:        &dest,
		DistanceKm:         q.DistanceKm,
		DurationSeconds:    int(q.DurationSeconds),
		EtaMinutes:         q.EtaMinutes,
		Polyline:           q.Polyline,
		Amount:             amount,
		Status:             domain.RequestStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("request created",
		zap.String("request_id", req.ID),
		zap.String("client_id", clientID),
		zap.Float64("amount", req.Amount),
		zap.Bool("covered", req.IsCovered()))

	s.changes.requestChanged(ctx, req, domain.ChangeInsert)
	s.notifyNearby(ctx, req)

	return req, nil
}

func (s *RequestService) resolveClient(actor domain.Actor, in CreateRequestInput) (string, error) {
	switch actor.Role {
	case domain.RoleClient:
		return actor.ID, nil
	case domain.RoleOperator:
		if in.ClientID == "" && strings.TrimSpace(in.GuestName) == "" {
			return "", ErrForbidden
		}
		return in.ClientID, nil
	}
	return "", ErrForbidden
}

func validateRoute(origin domain.Coordinates, destination *domain.Coordinates) error {
	if !geo.ValidPoint(origin.Lat, origin.Lng) {
		return ErrInvalidOrigin
	}
	if destination == nil {
		return ErrMissingDestination
	}
	if !geo.ValidPoint(destination.Lat, destination.Lng) {
		return ErrInvalidDestination
	}
	return nil
}

// notifyNearby pushes the new request to online providers around the pickup.
func (s *RequestService) notifyNearby(ctx context.Context, req *domain.Request) {
	if s.locationStore == nil || s.notifications == nil {
		return
	}

	nearby, err := s.locationStore.FindNearbyProviders(ctx, req.Origin.Lat, req.Origin.Lng, s.cfg.NotifyRadiusKm)
	if err != nil {
		s.logger.Warn("nearby provider lookup failed", zap.String("request_id", req.ID), zap.Error(err))
		return
	}

	ids := make([]string, len(nearby))
	for i, loc := range nearby {
		ids[i] = loc.ProviderID
	}
	if s.cacheStore != nil {
		if ids, err = s.cacheStore.FilterOnline(ctx, ids); err != nil {
			s.logger.Warn("online filter failed", zap.String("request_id", req.ID), zap.Error(err))
			return
		}
	}
	s.notifications.NotifyNewRequest(ctx, req, ids)
}

// Get retrieves a request the actor is allowed to see.
func (s *RequestService) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Request, error) {
	if id == "" {
		return nil, ErrInvalidRequestID
	}

	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, req) {
		return nil, ErrForbidden
	}
	return req, nil
}

// canView reports whether actor may read req. Providers see their own
// requests and the open pool.
func canView(actor domain.Actor, req *domain.Request) bool {
	switch actor.Role {
	case domain.RoleOperator:
		return true
	case domain.RoleClient:
		return req.ClientID == actor.ID
	case domain.RoleProvider:
		if req.ProviderID == actor.ID {
			return true
		}
		return req.Status == domain.RequestStatusPending && req.ProviderID == ""
	}
	return false
}

// ActiveForClient returns the client's current request. Requests older than
// the lookback window are never resumed. Returns nil if none exists.
func (s *RequestService) ActiveForClient(ctx context.Context, clientID string) (*domain.Request, error) {
	if clientID == "" {
		return nil, ErrForbidden
	}
	return s.requests.FindActiveByClient(ctx, clientID, time.Now().Add(-s.cfg.ActiveLookback))
}

// Cancel cancels a request that no provider has committed to yet.
func (s *RequestService) Cancel(ctx context.Context, actor domain.Actor, id, reason string) (*domain.Request, error) {
	if id == "" {
		return nil, ErrInvalidRequestID
	}
	if actor.Role != domain.RoleClient && actor.Role != domain.RoleOperator {
		return nil, ErrForbidden
	}

	req, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Status == domain.RequestStatusCancelled {
		return req, nil
	}
	if !lifecycle.Cancellable(req.Status) {
		return nil, &ConflictError{Err: ErrRequestCannotBeCancelled, Current: req}
	}

	err = s.guard.run(ctx, id, actor.ID, func() error {
		cond := repository.RequestCondition{Statuses: lifecycle.CancellableStatuses()}
		if actor.Role == domain.RoleClient {
			cond.ClientID = actor.ID
		}
		now := time.Now()
		ok, err := s.requests.ConditionalUpdate(ctx, id, cond, repository.RequestUpdate{
			Status:       domain.RequestStatusCancelled,
			CancelReason: stringPtr(reason),
			CancelledAt:  &now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return lostRace(ctx, s.requests, id, ErrRequestCannotBeCancelled)
		}
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) && conflict.Current != nil && conflict.Current.Status == domain.RequestStatusCancelled {
			return conflict.Current, nil
		}
		return nil, err
	}

	directedTo := req.ProviderID
	if req, err = s.requests.GetByID(ctx, id); err != nil {
		return nil, err
	}

	s.logger.Info("request cancelled",
		zap.String("request_id", id),
		zap.String("actor_id", actor.ID),
		zap.String("role", string(actor.Role)))

	s.changes.requestChanged(ctx, req, domain.ChangeUpdate, directedTo)
	if s.notifications != nil {
		if req.ProviderID == "" {
			req.ProviderID = directedTo
		}
		s.notifications.NotifyCancelled(ctx, req, actor)
	}
	return req, nil
}

// ReportProblem flags a finalized request. The status is left unchanged.
func (s *RequestService) ReportProblem(ctx context.Context, actor domain.Actor, id string, problem domain.ProblemType, description string) (*domain.Request, error) {
	if id == "" {
		return nil, ErrInvalidRequestID
	}
	if !problem.Valid() {
		return nil, ErrInvalidProblemType
	}
	if actor.Role != domain.RoleClient {
		return nil, ErrForbidden
	}

	req, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestStatusFinalized {
		return nil, ErrRequestNotFinalized
	}

	ok, err := s.requests.ConditionalUpdate(ctx, id,
		repository.RequestCondition{
			Statuses: []domain.RequestStatus{domain.RequestStatusFinalized},
			ClientID: actor.ID,
		},
		repository.RequestUpdate{
			ProblemType:        &problem,
			ProblemDescription: stringPtr(strings.TrimSpace(description)),
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lostRace(ctx, s.requests, id, ErrRequestNotFinalized)
	}

	s.logger.Info("problem reported",
		zap.String("request_id", id),
		zap.String("problem_type", string(problem)))

	return s.requests.GetByID(ctx, id)
}

// Summary returns the settlement breakdown of a request.
func (s *RequestService) Summary(ctx context.Context, actor domain.Actor, id string) (*Summary, error) {
	req, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	rate := s.cfg.DefaultCommissionRate
	if s.settings != nil {
		if rate, err = s.settings.CommissionRate(ctx); err != nil {
			return nil, err
		}
	}

	summary := Summarize(req, rate)
	return &summary, nil
}

// UnreadCount counts unread messages written by the other side of the chat.
func (s *RequestService) UnreadCount(ctx context.Context, actor domain.Actor, id string) (int, error) {
	from, err := s.counterpart(ctx, actor, id)
	if err != nil {
		return 0, err
	}
	return s.messages.CountUnread(ctx, id, from)
}

// MarkRead flags the other side's messages as read.
func (s *RequestService) MarkRead(ctx context.Context, actor domain.Actor, id string) (int64, error) {
	from, err := s.counterpart(ctx, actor, id)
	if err != nil {
		return 0, err
	}
	return s.messages.MarkRead(ctx, id, from)
}

func (s *RequestService) counterpart(ctx context.Context, actor domain.Actor, id string) (domain.SenderRole, error) {
	req, err := s.Get(ctx, actor, id)
	if err != nil {
		return "", err
	}
	switch {
	case actor.Role == domain.RoleClient:
		return domain.SenderProvider, nil
	case actor.Role == domain.RoleProvider && req.ProviderID == actor.ID:
		return domain.SenderClient, nil
	}
	return "", ErrForbidden
}
