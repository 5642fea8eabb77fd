package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"towing/internal/domain"
	"towing/internal/geo"
	"towing/internal/redis"
	"towing/internal/repository"
)

// Offer is a request surfaced to a provider for a decision.
type Offer struct {
	Request    *domain.Request `json:"request"`
	Directed   bool            `json:"directed"`
	DistanceKm float64         `json:"distance_km,omitempty"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Reconciler keeps one provider's view of the dispatch state current. The
// change feed and a fixed-interval poll both trigger the same Reevaluate, so
// losing the feed only slows discovery down to the poll interval.
type Reconciler struct {
	providerID string
	requests   repository.RequestRepository
	providers  repository.ProviderRepository
	feed       redis.FeedInterface
	interval   time.Duration
	lookback   time.Duration
	scanLimit  int
	declined   *declineLog
	logger     *zap.Logger

	mu         sync.Mutex
	lastRouted string // id:status of the last surfaced request
}

// NewReconciler creates a Reconciler for one provider.
func (s *DispatchService) NewReconciler(providerID string) *Reconciler {
	return &Reconciler{
		providerID: providerID,
		requests:   s.requests,
		providers:  s.providers,
		feed:       s.feed,
		interval:   pollInterval(s.cfg.PollInterval),
		lookback:   s.cfg.ActiveLookback,
		scanLimit:  s.cfg.PendingScanLimit,
		declined:   s.declined,
		logger:     s.logger.With(zap.String("provider_id", providerID)),
	}
}

func pollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Reevaluate re-reads authoritative state and returns the offer to surface,
// or nil when there is nothing new. Safe to call redundantly.
func (r *Reconciler) Reevaluate(ctx context.Context) (*Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	offer, err := r.candidate(ctx)
	if err != nil || offer == nil {
		return nil, err
	}

	key := offer.Request.ID + ":" + string(offer.Request.Status)
	if key == r.lastRouted {
		return nil, nil
	}
	r.lastRouted = key
	return offer, nil
}

func (r *Reconciler) candidate(ctx context.Context) (*Offer, error) {
	directed, err := r.requests.FindDirectedTo(ctx, r.providerID)
	if err != nil {
		return nil, err
	}
	if directed != nil {
		return &Offer{Request: directed, Directed: true}, nil
	}

	provider, err := r.providers.GetByID(ctx, r.providerID)
	if err != nil {
		return nil, err
	}
	if provider.Status != domain.ProviderStatusOnline || provider.Position == nil {
		return nil, nil
	}

	active, err := r.requests.FindActiveByProvider(ctx, r.providerID, time.Now().Add(-r.lookback))
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, nil
	}

	pending, err := r.requests.FindOpenPending(ctx, r.scanLimit)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	offers := make([]Offer, 0, len(pending))
	for _, req := range pending {
		if r.declined.has(r.providerID, req.ID) {
			continue
		}
		offers = append(offers, Offer{
			Request: req,
			DistanceKm: geo.DistanceMeters(provider.Position.Lat, provider.Position.Lng,
				req.Origin.Lat, req.Origin.Lng) / 1000,
		})
	}
	if len(offers) == 0 {
		return nil, nil
	}
	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].DistanceKm < offers[j].DistanceKm
	})
	return &offers[0], nil
}

// Run drives Reevaluate from the poll ticker and the change feed until ctx
// ends, calling emit for each new offer. Each Run is a new session: requests
// declined in an earlier session may be offered again.
func (r *Reconciler) Run(ctx context.Context, emit func(Offer)) error {
	r.declined.reset(r.providerID)

	g, ctx := errgroup.WithContext(ctx)
	trigger := make(chan struct{}, 1)

	g.Go(func() error {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			offer, err := r.Reevaluate(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Warn("dispatch reevaluation failed", zap.Error(err))
			} else if offer != nil {
				emit(*offer)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			case <-trigger:
			}
		}
	})

	g.Go(func() error {
		watchFeed(ctx, r.feed, r.interval, r.logger, trigger, redis.TableTopic(domain.TableRequests))
		return nil
	})

	return g.Wait()
}

// watchFeed pokes trigger for every event on topics, resubscribing after a
// failure. It returns when ctx ends.
func watchFeed(ctx context.Context, feed redis.FeedInterface, retry time.Duration, logger *zap.Logger, trigger chan<- struct{}, topics ...string) {
	if feed == nil {
		return
	}

	for {
		sub, err := feed.Subscribe(ctx, topics...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("feed subscription failed, polling only", zap.Error(err))
		} else {
			for range sub.Events() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Warn("feed subscription dropped, polling only")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

// TerminalSignal tells a request watcher where to go once the request ends.
type TerminalSignal string

const (
	TerminalRating TerminalSignal = "rating" // finalized
	TerminalClosed TerminalSignal = "closed" // cancelled
)

// TerminalObserver reports the terminal signal of each request id at most once.
type TerminalObserver struct {
	mu    sync.Mutex
	fired map[string]bool
}

// NewTerminalObserver creates a new TerminalObserver.
func NewTerminalObserver() *TerminalObserver {
	return &TerminalObserver{fired: make(map[string]bool)}
}

// Observe returns the signal for req the first time it is seen in a
// terminal status. Later calls for the same id report false.
func (o *TerminalObserver) Observe(req *domain.Request) (TerminalSignal, bool) {
	var signal TerminalSignal
	switch req.Status {
	case domain.RequestStatusFinalized:
		signal = TerminalRating
	case domain.RequestStatusCancelled:
		signal = TerminalClosed
	default:
		return "", false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fired[req.ID] {
		return "", false
	}
	o.fired[req.ID] = true
	return signal, true
}

// StatusEvent is emitted by a RequestWatcher when the request changes.
type StatusEvent struct {
	Request  *domain.Request `json:"request"`
	Terminal TerminalSignal  `json:"terminal,omitempty"`
}

// RequestWatcher follows one request for its client with the same feed plus
// poll mechanism as the Reconciler.
type RequestWatcher struct {
	requestID string
	requests  repository.RequestRepository
	feed      redis.FeedInterface
	interval  time.Duration
	observer  *TerminalObserver
	logger    *zap.Logger

	lastStatus domain.RequestStatus
	lastUpdate time.Time
}

// NewRequestWatcher creates a RequestWatcher for one request.
func (s *RequestService) NewRequestWatcher(requestID string) *RequestWatcher {
	return &RequestWatcher{
		requestID: requestID,
		requests:  s.requests,
		feed:      s.changes.feed,
		interval:  pollInterval(s.cfg.RequestPollInterval),
		observer:  NewTerminalObserver(),
		logger:    s.logger.With(zap.String("request_id", requestID)),
	}
}

// check re-reads the request and reports whether it changed since the last
// check.
func (w *RequestWatcher) check(ctx context.Context) (*StatusEvent, error) {
	req, err := w.requests.GetByID(ctx, w.requestID)
	if err != nil {
		return nil, err
	}

	signal, terminal := w.observer.Observe(req)
	if !terminal && req.Status == w.lastStatus && req.UpdatedAt.Equal(w.lastUpdate) {
		return nil, nil
	}
	w.lastStatus = req.Status
	w.lastUpdate = req.UpdatedAt

	if req.Status.IsTerminal() && !terminal {
		return nil, nil
	}
	return &StatusEvent{Request: req, Terminal: signal}, nil
}

// Run emits every observed change until the request reaches a terminal
// status or ctx ends. The terminal event is emitted exactly once.
func (w *RequestWatcher) Run(ctx context.Context, emit func(StatusEvent)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	trigger := make(chan struct{}, 1)

	g.Go(func() error {
		defer cancel()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			ev, err := w.check(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Warn("request watch check failed", zap.Error(err))
			} else if ev != nil {
				emit(*ev)
				if ev.Terminal != "" {
					return nil
				}
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			case <-trigger:
			}
		}
	})

	g.Go(func() error {
		watchFeed(ctx, w.feed, w.interval, w.logger, trigger, redis.RowTopic(domain.TableRequests, w.requestID))
		return nil
	})

	return g.Wait()
}
