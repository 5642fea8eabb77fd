package tests

import (
	"context"
	"sync"
	"time"

	"towing/internal/config"
	"towing/internal/domain"
	"towing/internal/service"
)

// recordingPusher keeps every pushed notification.
type recordingPusher struct {
	mu   sync.Mutex
	sent []service.Notification
}

func (p *recordingPusher) Push(ctx context.Context, n service.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPusher) sentTo(recipientID string, typ service.NotificationType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.sent {
		if s.RecipientID == recipientID && s.Type == typ {
			n++
		}
	}
	return n
}

// testEnv wires every service against the mocks.
type testEnv struct {
	requests   *MockRequestRepository
	providers  *MockProviderRepository
	clients    *MockClientRepository
	checklists *MockChecklistRepository
	messages   *MockMessageRepository
	settings   *MockSettingsRepository
	transactor *MockTransactor
	locations  *MockLocationStore
	locks      *MockLockStore
	cache      *MockCacheStore
	feed       *MockFeed
	quoter     *MockQuoter
	pusher     *recordingPusher

	dispatchCfg config.DispatchConfig
	trackingCfg config.TrackingConfig

	requestService   *service.RequestService
	dispatchService  *service.DispatchService
	lifecycleService *service.LifecycleService
	trackingService  *service.TrackingService
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		PollInterval:          50 * time.Millisecond,
		OfferWindow:           30 * time.Second,
		ActiveLookback:        24 * time.Hour,
		InFlightLockTTL:       15 * time.Second,
		PendingScanLimit:      20,
		NotifyRadiusKm:        30,
		DefaultCommissionRate: 15,
		SkatesMaxUnits:        4,
		AllowLegacyNullDest:   true,
		RequestPollInterval:   50 * time.Millisecond,
	}
}

func testTrackingConfig() config.TrackingConfig {
	return config.TrackingConfig{
		HeadingNoiseFloorM:  5,
		SpeedWindow:         10,
		MinSpeedSamples:     3,
		MinSpeedKmh:         1,
		MaxSpeedKmh:         200,
		FallbackSpeedKmh:    40,
		MaxSampleGap:        60 * time.Second,
		PersistMinInterval:  15 * time.Second,
		PersistMaxInterval:  60 * time.Second,
		PersistMinDistanceM: 25,
		FollowCooldown:      8 * time.Second,
		SmoothDuration:      2 * time.Second,
		SmoothFrameInterval: 250 * time.Millisecond,
	}
}

func newTestEnv(configure ...func(*config.DispatchConfig, *config.TrackingConfig)) *testEnv {
	env := &testEnv{
		requests:    NewMockRequestRepository(),
		providers:   NewMockProviderRepository(),
		clients:     NewMockClientRepository(),
		checklists:  NewMockChecklistRepository(),
		messages:    NewMockMessageRepository(),
		settings:    NewMockSettingsRepository(),
		locations:   NewMockLocationStore(),
		locks:       NewMockLockStore(),
		cache:       NewMockCacheStore(),
		feed:        NewMockFeed(),
		quoter:      NewMockQuoter(&domain.Quote{DistanceKm: 2.3, DurationSeconds: 420, EtaMinutes: 7, Amount: 15.50}),
		pusher:      &recordingPusher{},
		dispatchCfg: testDispatchConfig(),
		trackingCfg: testTrackingConfig(),
	}
	for _, fn := range configure {
		fn(&env.dispatchCfg, &env.trackingCfg)
	}
	env.transactor = NewMockTransactor(env.requests, env.checklists)

	notifications := service.NewNotificationService(env.pusher, nil)
	settings := service.NewSettingsService(env.settings, env.cache, env.dispatchCfg.DefaultCommissionRate, nil)

	env.requestService = service.NewRequestService(env.requests, env.clients, env.messages, env.quoter, settings,
		env.locations, env.locks, env.cache, env.feed, notifications, env.dispatchCfg, nil)
	env.dispatchService = service.NewDispatchService(env.requests, env.providers, env.locations, env.locks, env.cache,
		env.feed, notifications, env.dispatchCfg, nil)
	env.lifecycleService = service.NewLifecycleService(env.requests, env.providers, env.checklists, env.transactor,
		settings, env.locks, env.cache, env.feed, notifications, env.dispatchCfg, nil)
	env.trackingService = service.NewTrackingService(env.providers, env.requests, env.locations, env.cache, env.feed,
		env.trackingCfg, env.dispatchCfg.ActiveLookback, nil)
	return env
}

var (
	clientActor   = domain.Actor{ID: "client-1", Role: domain.RoleClient}
	operatorActor = domain.Actor{ID: "operator-1", Role: domain.RoleOperator}
)

// saoPauloOrigin and saoPauloDest are a short urban tow inside São Paulo.
var (
	saoPauloOrigin = domain.Coordinates{Lat: -23.5505, Lng: -46.6333}
	saoPauloDest   = domain.Coordinates{Lat: -23.5614, Lng: -46.6559}
)

// addRequest stores a request in the given status with sane coordinates.
func (e *testEnv) addRequest(id string, status domain.RequestStatus, providerID string) *domain.Request {
	dest := saoPauloDest
	req := &domain.Request{
		ID:          id,
		ClientID:    clientActor.ID,
		ProviderID:  providerID,
		Origin:      saoPauloOrigin,
		Destination: &dest,
		Amount:      150,
		Status:      status,
	}
	e.requests.AddRequest(req)
	return e.requests.GetRequest(id)
}

// addProvider stores an online provider at pos.
func (e *testEnv) addProvider(id string, pos *domain.Coordinates) {
	e.providers.AddProvider(&domain.Provider{
		ID:                id,
		Status:            domain.ProviderStatusOnline,
		Position:          pos,
		LocationUpdatedAt: time.Now(),
	})
	_ = e.cache.AddOnlineProvider(context.Background(), id)
}

// completeChecklist is a submission that satisfies the default template.
func completeChecklist(requestID string, phase domain.ChecklistPhase) service.ChecklistInput {
	items := domain.DefaultChecklistItems(phase)
	for i := range items {
		items[i].Checked = true
	}
	return service.ChecklistInput{
		RequestID:     requestID,
		Phase:         phase,
		FrontPhotoURL: "https://cdn.example.com/front.jpg",
		RearPhotoURL:  "https://cdn.example.com/rear.jpg",
		Items:         items,
	}
}
