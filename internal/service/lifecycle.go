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
	"towing/internal/lifecycle"
	"towing/internal/redis"
	"towing/internal/repository"
)

// errStatusNotMatched aborts a transaction whose conditional status write
// matched no row.
var errStatusNotMatched = errors.New("status write matched no row")

// LifecycleService advances requests through the provider-driven steps.
// The gated steps are only reachable through SubmitChecklist.
type LifecycleService struct {
	requests      repository.RequestRepository
	providers     repository.ProviderRepository
	checklists    repository.ChecklistRepository
	transactor    repository.Transactor
	settings      *SettingsService
	notifications *NotificationService
	changes       changeNotifier
	guard         inFlightGuard
	cfg           config.DispatchConfig
	logger        *zap.Logger
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(
	requests repository.RequestRepository,
	providers repository.ProviderRepository,
	checklists repository.ChecklistRepository,
	transactor repository.Transactor,
	settings *SettingsService,
	lockStore redis.LockStoreInterface,
	cacheStore redis.CacheStoreInterface,
	feed redis.FeedInterface,
	notifications *NotificationService,
	cfg config.DispatchConfig,
	logger *zap.Logger,
) *LifecycleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{
		requests:      requests,
		providers:     providers,
		checklists:    checklists,
		transactor:    transactor,
		settings:      settings,
		notifications: notifications,
		changes:       changeNotifier{feed: feed, cache: cacheStore, logger: logger},
		guard:         inFlightGuard{locks: lockStore, ttl: cfg.InFlightLockTTL, logger: logger},
		cfg:           cfg,
		logger:        logger,
	}
}

// assigned loads a request and checks that providerID holds it.
func (s *LifecycleService) assigned(ctx context.Context, providerID, requestID string) (*domain.Request, error) {
	if providerID == "" {
		return nil, ErrInvalidProviderID
	}
	if requestID == "" {
		return nil, ErrInvalidRequestID
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ProviderID != providerID {
		return nil, ErrNotAssignedProvider
	}
	return req, nil
}

// Advance performs the next non-gated step of a request. A gated next step
// returns a *GateError naming the checklist phase to submit.
func (s *LifecycleService) Advance(ctx context.Context, providerID, requestID string) (*domain.Request, error) {
	req, err := s.assigned(ctx, providerID, requestID)
	if err != nil {
		return nil, err
	}

	from := req.Status
	to, ok := lifecycle.Next(from)
	if !ok {
		return nil, &ConflictError{Err: ErrTransitionNotApplicable, Current: req}
	}
	if phase, gated := lifecycle.Gate(from, to); gated {
		return nil, &GateError{Phase: phase}
	}

	err = s.guard.run(ctx, requestID, providerID, func() error {
		ok, err := s.requests.ConditionalUpdate(ctx, requestID,
			repository.RequestCondition{
				Statuses:   []domain.RequestStatus{from},
				ProviderID: providerID,
			},
			repository.RequestUpdate{Status: to})
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

	return s.committed(ctx, requestID, from, to)
}

// committed reloads the request after a status write and fans it out.
func (s *LifecycleService) committed(ctx context.Context, requestID string, from, to domain.RequestStatus) (*domain.Request, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("request advanced",
		zap.String("request_id", requestID),
		zap.String("provider_id", req.ProviderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	s.changes.requestChanged(ctx, req, domain.ChangeUpdate)
	if s.notifications != nil {
		s.notifications.NotifyStatusChanged(ctx, req)
	}
	return req, nil
}

// ChecklistInput contains a checklist submission.
type ChecklistInput struct {
	RequestID     string
	Phase         domain.ChecklistPhase
	FrontPhotoURL string
	RearPhotoURL  string
	PhotoURLs     []string
	Items         []domain.ChecklistItem // only Name and Checked are read
	Notes         string
	TollAmount    float64 // end phase only
	SkatesQty     int     // end phase only
}

// SubmitChecklist stores the checklist of a phase and commits the status
// transition it gates, in one transaction. Resubmitting after the transition
// committed returns the request unchanged.
func (s *LifecycleService) SubmitChecklist(ctx context.Context, providerID string, in ChecklistInput) (*domain.Request, error) {
	from, to, ok := lifecycle.GatedTransition(in.Phase)
	if !ok {
		return nil, ErrInvalidPhase
	}

	req, err := s.assigned(ctx, providerID, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status == to {
		return req, nil
	}
	if req.Status != from {
		return nil, &ConflictError{Err: ErrTransitionNotApplicable, Current: req}
	}

	template, err := s.settings.ChecklistTemplate(ctx, in.Phase)
	if err != nil {
		return nil, err
	}

	checklist := &domain.Checklist{
		ID:            uuid.New().String(),
		RequestID:     req.ID,
		ProviderID:    providerID,
		Phase:         in.Phase,
		FrontPhotoURL: strings.TrimSpace(in.FrontPhotoURL),
		RearPhotoURL:  strings.TrimSpace(in.RearPhotoURL),
		PhotoURLs:     in.PhotoURLs,
		Items:         mergeChecklistItems(template, in.Items),
		Notes:         strings.TrimSpace(in.Notes),
		CreatedAt:     time.Now(),
	}
	if missing := checklist.Missing(); len(missing) > 0 {
		s.logger.Info("checklist rejected",
			zap.String("request_id", req.ID),
			zap.String("phase", string(in.Phase)),
			zap.Strings("missing", missing))
		return nil, &GateError{Phase: in.Phase, Missing: missing}
	}

	upd := repository.RequestUpdate{Status: to}
	if in.Phase == domain.ChecklistPhaseEnd {
		if upd, err = s.settlementUpdate(ctx, req, providerID, in.TollAmount, in.SkatesQty); err != nil {
			return nil, err
		}
	}

	err = s.guard.run(ctx, req.ID, providerID, func() error {
		return s.commitGate(ctx, req.ID, providerID, from, checklist, upd)
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) && conflict.Current != nil && conflict.Current.Status == to {
			return conflict.Current, nil
		}
		return nil, err
	}

	return s.committed(ctx, req.ID, from, to)
}

// commitGate writes the checklist and the gated status change atomically.
// An existing checklist for the same phase is reused.
func (s *LifecycleService) commitGate(
	ctx context.Context,
	requestID, providerID string,
	from domain.RequestStatus,
	checklist *domain.Checklist,
	upd repository.RequestUpdate,
) error {
	err := s.transactor.WithinTx(ctx, func(repos repository.TxRepositories) error {
		created, err := repos.Checklists.CreateIfAbsent(ctx, checklist)
		if err != nil {
			return fmt.Errorf("save checklist: %w", err)
		}
		if !created {
			s.logger.Debug("checklist already recorded, reusing it",
				zap.String("request_id", requestID),
				zap.String("phase", string(checklist.Phase)))
		}

		ok, err := repos.Requests.ConditionalUpdate(ctx, requestID,
			repository.RequestCondition{
				Statuses:   []domain.RequestStatus{from},
				ProviderID: providerID,
			}, upd)
		if err != nil {
			return fmt.Errorf("write status: %w", err)
		}
		if !ok {
			return errStatusNotMatched
		}
		return nil
	})
	if errors.Is(err, errStatusNotMatched) {
		return lostRace(ctx, s.requests, requestID, ErrTransitionNotApplicable)
	}
	if err != nil {
		s.logger.Error("gated transition failed",
			zap.String("request_id", requestID),
			zap.String("phase", string(checklist.Phase)),
			zap.Error(err))
	}
	return err
}

// settlementUpdate builds the finalization write: extras, final amount and
// platform commission.
func (s *LifecycleService) settlementUpdate(ctx context.Context, req *domain.Request, providerID string, toll float64, skatesQty int) (repository.RequestUpdate, error) {
	upd := repository.RequestUpdate{Status: domain.RequestStatusFinalized}

	if toll < 0 {
		return upd, ErrInvalidToll
	}
	if skatesQty < 0 || skatesQty > s.cfg.SkatesMaxUnits {
		return upd, ErrInvalidSkatesQuantity
	}

	var skatesAmount float64
	if skatesQty > 0 {
		provider, err := s.providers.GetByID(ctx, providerID)
		if err != nil {
			return upd, err
		}
		if !provider.Pricing.OffersSkates {
			return upd, ErrSkatesNotOffered
		}
		skatesAmount = roundCents(provider.Pricing.SkatesPrice * float64(skatesQty))
	}

	rate, err := s.settings.CommissionRate(ctx)
	if err != nil {
		return upd, err
	}

	used := skatesQty > 0
	final := roundCents(req.Amount + toll + skatesAmount)
	upd.TollAmount = floatPtr(toll)
	upd.SkatesUsed = &used
	upd.SkatesQty = &skatesQty
	upd.SkatesAmount = floatPtr(skatesAmount)
	upd.FinalAmount = floatPtr(final)
	upd.CommissionRate = floatPtr(rate)
	upd.CommissionAmount = floatPtr(roundCents(final * rate / 100))
	return upd, nil
}

// mergeChecklistItems applies the submitted checks to the template. Required
// flags always come from the template; unknown submitted items are kept as
// optional.
func mergeChecklistItems(template, submitted []domain.ChecklistItem) []domain.ChecklistItem {
	checked := make(map[string]bool, len(submitted))
	for _, item := range submitted {
		checked[strings.TrimSpace(item.Name)] = item.Checked
	}

	merged := make([]domain.ChecklistItem, 0, len(template)+len(submitted))
	known := make(map[string]bool, len(template))
	for _, item := range template {
		item.Checked = checked[item.Name]
		known[item.Name] = true
		merged = append(merged, item)
	}
	for _, item := range submitted {
		name := strings.TrimSpace(item.Name)
		if name == "" || known[name] {
			continue
		}
		known[name] = true
		merged = append(merged, domain.ChecklistItem{Name: name, Checked: item.Checked})
	}
	return merged
}

// RecoverGatedTransition replays the status write of a phase whose checklist
// is already stored. It is a no-op when the transition already committed.
func (s *LifecycleService) RecoverGatedTransition(ctx context.Context, providerID, requestID string, phase domain.ChecklistPhase) (*domain.Request, error) {
	from, to, ok := lifecycle.GatedTransition(phase)
	if !ok {
		return nil, ErrInvalidPhase
	}

	req, err := s.assigned(ctx, providerID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == to {
		return req, nil
	}
	if req.Status != from {
		return nil, &ConflictError{Err: ErrTransitionNotApplicable, Current: req}
	}

	if _, err := s.checklists.GetByRequestAndPhase(ctx, requestID, phase); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &GateError{Phase: phase}
		}
		return nil, err
	}

	upd := repository.RequestUpdate{Status: to}
	if phase == domain.ChecklistPhaseEnd {
		if upd, err = s.settlementUpdate(ctx, req, providerID, req.TollAmount, req.SkatesQty); err != nil {
			return nil, err
		}
	}

	err = s.guard.run(ctx, requestID, providerID, func() error {
		ok, err := s.requests.ConditionalUpdate(ctx, requestID,
			repository.RequestCondition{
				Statuses:   []domain.RequestStatus{from},
				ProviderID: providerID,
			}, upd)
		if err != nil {
			return err
		}
		if !ok {
			return lostRace(ctx, s.requests, requestID, ErrTransitionNotApplicable)
		}
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) && conflict.Current != nil && conflict.Current.Status == to {
			return conflict.Current, nil
		}
		return nil, err
	}

	s.logger.Warn("gated transition recovered",
		zap.String("request_id", requestID),
		zap.String("phase", string(phase)))

	return s.committed(ctx, requestID, from, to)
}

// ActiveForProvider returns the request the provider is working on. Returns
// nil if none exists.
func (s *LifecycleService) ActiveForProvider(ctx context.Context, providerID string) (*domain.Request, error) {
	if providerID == "" {
		return nil, ErrInvalidProviderID
	}
	return s.requests.FindActiveByProvider(ctx, providerID, time.Now().Add(-s.cfg.ActiveLookback))
}

// ChecklistTemplate returns the items a provider must go through for a phase.
func (s *LifecycleService) ChecklistTemplate(ctx context.Context, phase domain.ChecklistPhase) ([]domain.ChecklistItem, error) {
	return s.settings.ChecklistTemplate(ctx, phase)
}
