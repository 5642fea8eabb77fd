package tests

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"towing/internal/domain"
	"towing/internal/quote"
	"towing/internal/redis"
	"towing/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK REQUEST REPOSITORY
// ──────────────────────────────────────────────

// MockRequestRepository is an in-memory RequestRepository. ConditionalUpdate
// checks and writes under one lock, like a single-row UPDATE ... WHERE.
type MockRequestRepository struct {
	mu       sync.RWMutex
	requests map[string]*domain.Request

	// Counters for verification
	CreateCallCount            int32
	ConditionalUpdateCallCount int32

	// Error injection
	CreateError            error
	GetError               error
	ConditionalUpdateError error

	// BeforeUpdate runs before each conditional update is evaluated.
	BeforeUpdate func(id string)
}

// NewMockRequestRepository creates a new mock request repository.
func NewMockRequestRepository() *MockRequestRepository {
	return &MockRequestRepository{
		requests: make(map[string]*domain.Request),
	}
}

// AddRequest adds a request to the mock repository.
func (m *MockRequestRepository) AddRequest(req *domain.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	copy := *req
	m.requests[req.ID] = &copy
}

func (m *MockRequestRepository) Create(ctx context.Context, req *domain.Request) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[req.ID]; exists {
		return repository.ErrDuplicate
	}
	copy := *req
	m.requests[req.ID] = &copy
	return nil
}

func (m *MockRequestRepository) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *req
	return &copy, nil
}

func (m *MockRequestRepository) newest(match func(r *domain.Request) bool) *domain.Request {
	var found *domain.Request
	for _, r := range m.requests {
		if !match(r) {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found = r
		}
	}
	if found == nil {
		return nil
	}
	copy := *found
	return &copy
}

func (m *MockRequestRepository) FindActiveByClient(ctx context.Context, clientID string, since time.Time) (*domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newest(func(r *domain.Request) bool {
		return r.ClientID == clientID && !r.CreatedAt.Before(since) && !r.Status.IsTerminal()
	}), nil
}

func (m *MockRequestRepository) FindActiveByProvider(ctx context.Context, providerID string, since time.Time) (*domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newest(func(r *domain.Request) bool {
		return r.ProviderID == providerID && !r.CreatedAt.Before(since) && r.Status.IsActive()
	}), nil
}

func (m *MockRequestRepository) FindDirectedTo(ctx context.Context, providerID string) (*domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.newest(func(r *domain.Request) bool {
		return r.ProviderID == providerID && r.Status == domain.RequestStatusDirected
	}), nil
}

func (m *MockRequestRepository) FindOpenPending(ctx context.Context, limit int) ([]*domain.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Request, 0)
	for _, r := range m.requests {
		if r.Status == domain.RequestStatusPending && r.ProviderID == "" {
			copy := *r
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockRequestRepository) ConditionalUpdate(ctx context.Context, id string, cond repository.RequestCondition, upd repository.RequestUpdate) (bool, error) {
	atomic.AddInt32(&m.ConditionalUpdateCallCount, 1)
	if m.ConditionalUpdateError != nil {
		return false, m.ConditionalUpdateError
	}
	if m.BeforeUpdate != nil {
		m.BeforeUpdate(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || !matches(req, cond) {
		return false, nil
	}

	next := *req
	apply(&next, upd)
	next.UpdatedAt = time.Now()
	m.requests[id] = &next
	return true, nil
}

func matches(r *domain.Request, cond repository.RequestCondition) bool {
	if len(cond.Statuses) > 0 {
		found := false
		for _, s := range cond.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if cond.ProviderID != "" && r.ProviderID != cond.ProviderID {
		return false
	}
	if cond.ProviderUnassigned && r.ProviderID != "" {
		return false
	}
	if cond.ClientID != "" && r.ClientID != cond.ClientID {
		return false
	}
	return true
}

func apply(r *domain.Request, upd repository.RequestUpdate) {
	if upd.Status != "" {
		r.Status = upd.Status
	}
	if upd.ProviderID != nil {
		r.ProviderID = *upd.ProviderID
	}
	if upd.CancelReason != nil {
		r.CancelReason = *upd.CancelReason
	}
	if upd.CancelledAt != nil {
		r.CancelledAt = *upd.CancelledAt
	}
	if upd.TollAmount != nil {
		r.TollAmount = *upd.TollAmount
	}
	if upd.SkatesUsed != nil {
		r.SkatesUsed = *upd.SkatesUsed
	}
	if upd.SkatesQty != nil {
		r.SkatesQty = *upd.SkatesQty
	}
	if upd.SkatesAmount != nil {
		r.SkatesAmount = *upd.SkatesAmount
	}
	if upd.FinalAmount != nil {
		r.FinalAmount = *upd.FinalAmount
	}
	if upd.CommissionRate != nil {
		r.CommissionRate = *upd.CommissionRate
	}
	if upd.CommissionAmount != nil {
		r.CommissionAmount = *upd.CommissionAmount
	}
	if upd.ProblemType != nil {
		r.ProblemType = *upd.ProblemType
		r.ProblemReported = true
	}
	if upd.ProblemDescription != nil {
		r.ProblemDescription = *upd.ProblemDescription
	}
}

// SetStatus overwrites a status directly, bypassing the preconditions.
func (m *MockRequestRepository) SetStatus(id string, status domain.RequestStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req, ok := m.requests[id]; ok {
		next := *req
		next.Status = status
		next.UpdatedAt = time.Now()
		m.requests[id] = &next
	}
}

// GetRequest returns a request for test assertions.
func (m *MockRequestRepository) GetRequest(id string) *domain.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil
	}
	copy := *req
	return &copy
}

// CountRequests returns the number of requests.
func (m *MockRequestRepository) CountRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

func (m *MockRequestRepository) snapshot() map[string]*domain.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string]*domain.Request, len(m.requests))
	for k, v := range m.requests {
		snap[k] = v
	}
	return snap
}

func (m *MockRequestRepository) restore(snap map[string]*domain.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = snap
}

// ──────────────────────────────────────────────
// MOCK PROVIDER REPOSITORY
// ──────────────────────────────────────────────

// MockProviderRepository is a mock implementation of ProviderRepository.
type MockProviderRepository struct {
	mu        sync.RWMutex
	providers map[string]*domain.Provider
	balances  map[string]*domain.Balance

	// Counters for verification
	SetStatusCallCount      int32
	UpdatePositionCallCount int32

	// Error injection
	GetError            error
	SetStatusError      error
	UpdatePositionError error
}

// NewMockProviderRepository creates a new mock provider repository.
func NewMockProviderRepository() *MockProviderRepository {
	return &MockProviderRepository{
		providers: make(map[string]*domain.Provider),
		balances:  make(map[string]*domain.Balance),
	}
}

// AddProvider adds a provider to the mock repository.
func (m *MockProviderRepository) AddProvider(p *domain.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *p
	m.providers[p.ID] = &copy
}

// SetBalance sets the balance returned for a provider.
func (m *MockProviderRepository) SetBalance(b *domain.Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[b.ProviderID] = b
}

func (m *MockProviderRepository) GetByID(ctx context.Context, id string) (*domain.Provider, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (m *MockProviderRepository) SetStatus(ctx context.Context, id string, status domain.ProviderStatus) error {
	atomic.AddInt32(&m.SetStatusCallCount, 1)
	if m.SetStatusError != nil {
		return m.SetStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *MockProviderRepository) UpdatePosition(ctx context.Context, id string, lat, lng float64, at time.Time) error {
	atomic.AddInt32(&m.UpdatePositionCallCount, 1)
	if m.UpdatePositionError != nil {
		return m.UpdatePositionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Position = &domain.Coordinates{Lat: lat, Lng: lng}
	p.LocationUpdatedAt = at
	return nil
}

func (m *MockProviderRepository) UpdatePricing(ctx context.Context, id string, pricing domain.Pricing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Pricing = pricing
	return nil
}

func (m *MockProviderRepository) GetBalance(ctx context.Context, id string) (*domain.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.balances[id]; ok {
		copy := *b
		return &copy, nil
	}
	if _, ok := m.providers[id]; !ok {
		return nil, repository.ErrNotFound
	}
	return &domain.Balance{ProviderID: id}, nil
}

// GetProvider returns a provider for test assertions.
func (m *MockProviderRepository) GetProvider(id string) *domain.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil
	}
	copy := *p
	return &copy
}

// ──────────────────────────────────────────────
// MOCK CLIENT REPOSITORY
// ──────────────────────────────────────────────

// MockClientRepository is a mock implementation of ClientRepository.
type MockClientRepository struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

// NewMockClientRepository creates a new mock client repository.
func NewMockClientRepository() *MockClientRepository {
	return &MockClientRepository{
		clients: make(map[string]*domain.Client),
	}
}

// AddClient adds a client to the mock repository.
func (m *MockClientRepository) AddClient(c *domain.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
}

func (m *MockClientRepository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *c
	return &copy, nil
}

// ──────────────────────────────────────────────
// MOCK CHECKLIST REPOSITORY
// ──────────────────────────────────────────────

// MockChecklistRepository is a mock implementation of ChecklistRepository
// with a unique (request, phase) constraint.
type MockChecklistRepository struct {
	mu         sync.RWMutex
	checklists map[string]*domain.Checklist

	// Counters
	CreateCallCount int32

	// Error injection
	CreateError error
}

// NewMockChecklistRepository creates a new mock checklist repository.
func NewMockChecklistRepository() *MockChecklistRepository {
	return &MockChecklistRepository{
		checklists: make(map[string]*domain.Checklist),
	}
}

func checklistKey(requestID string, phase domain.ChecklistPhase) string {
	return requestID + "/" + string(phase)
}

func (m *MockChecklistRepository) CreateIfAbsent(ctx context.Context, c *domain.Checklist) (bool, error) {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return false, m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := checklistKey(c.RequestID, c.Phase)
	if _, exists := m.checklists[key]; exists {
		return false, nil
	}
	copy := *c
	m.checklists[key] = &copy
	return true, nil
}

func (m *MockChecklistRepository) GetByRequestAndPhase(ctx context.Context, requestID string, phase domain.ChecklistPhase) (*domain.Checklist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checklists[checklistKey(requestID, phase)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *c
	return &copy, nil
}

// AddChecklist stores a checklist directly.
func (m *MockChecklistRepository) AddChecklist(c *domain.Checklist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checklists[checklistKey(c.RequestID, c.Phase)] = c
}

// CountChecklists returns the number of stored checklists.
func (m *MockChecklistRepository) CountChecklists() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checklists)
}

func (m *MockChecklistRepository) snapshot() map[string]*domain.Checklist {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string]*domain.Checklist, len(m.checklists))
	for k, v := range m.checklists {
		snap[k] = v
	}
	return snap
}

func (m *MockChecklistRepository) restore(snap map[string]*domain.Checklist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checklists = snap
}

// ──────────────────────────────────────────────
// MOCK TRANSACTOR
// ──────────────────────────────────────────────

// MockTransactor runs units of work against the mock repositories and
// restores their state when the unit fails.
type MockTransactor struct {
	mu         sync.Mutex
	requests   *MockRequestRepository
	checklists *MockChecklistRepository

	// Counters
	CommitCount   int32
	RollbackCount int32
}

// NewMockTransactor creates a new mock transactor.
func NewMockTransactor(requests *MockRequestRepository, checklists *MockChecklistRepository) *MockTransactor {
	return &MockTransactor{requests: requests, checklists: checklists}
}

func (m *MockTransactor) WithinTx(ctx context.Context, fn func(repos repository.TxRepositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reqSnap := m.requests.snapshot()
	clSnap := m.checklists.snapshot()

	if err := fn(repository.TxRepositories{Requests: m.requests, Checklists: m.checklists}); err != nil {
		m.requests.restore(reqSnap)
		m.checklists.restore(clSnap)
		atomic.AddInt32(&m.RollbackCount, 1)
		return err
	}
	atomic.AddInt32(&m.CommitCount, 1)
	return nil
}

// ──────────────────────────────────────────────
// MOCK MESSAGE REPOSITORY
// ──────────────────────────────────────────────

type mockMessage struct {
	requestID string
	from      domain.SenderRole
	read      bool
}

// MockMessageRepository is a mock implementation of MessageRepository.
type MockMessageRepository struct {
	mu       sync.Mutex
	messages []*mockMessage
}

// NewMockMessageRepository creates a new mock message repository.
func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{}
}

// AddMessage stores an unread message.
func (m *MockMessageRepository) AddMessage(requestID string, from domain.SenderRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, &mockMessage{requestID: requestID, from: from})
}

func (m *MockMessageRepository) CountUnread(ctx context.Context, requestID string, from domain.SenderRole) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.requestID == requestID && msg.from == from && !msg.read {
			n++
		}
	}
	return n, nil
}

func (m *MockMessageRepository) MarkRead(ctx context.Context, requestID string, from domain.SenderRole) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.requestID == requestID && msg.from == from && !msg.read {
			msg.read = true
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────
// MOCK SETTINGS REPOSITORY
// ──────────────────────────────────────────────

// MockSettingsRepository is a mock implementation of SettingsRepository.
type MockSettingsRepository struct {
	mu       sync.RWMutex
	settings map[string]string

	// Counters
	GetCallCount int32

	// Error injection
	GetError error
}

// NewMockSettingsRepository creates a new mock settings repository.
func NewMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{
		settings: make(map[string]string),
	}
}

// Set stores a setting value.
func (m *MockSettingsRepository) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
}

func (m *MockSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	if m.GetError != nil {
		return "", m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of LocationStore.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations []redis.ProviderLocation

	// Counters
	UpdateLocationCallCount int32

	// Error injection
	UpdateLocationError      error
	FindNearbyProvidersError error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{
		locations: make([]redis.ProviderLocation, 0),
	}
}

// SetLocations sets all locations (for test setup).
func (m *MockLocationStore) SetLocations(locations []redis.ProviderLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = locations
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, providerID string, lat, lng float64) error {
	atomic.AddInt32(&m.UpdateLocationCallCount, 1)
	if m.UpdateLocationError != nil {
		return m.UpdateLocationError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Update existing or add new.
	for i, loc := range m.locations {
		if loc.ProviderID == providerID {
			m.locations[i].Lat = lat
			m.locations[i].Lng = lng
			return nil
		}
	}
	m.locations = append(m.locations, redis.ProviderLocation{
		ProviderID: providerID,
		Lat:        lat,
		Lng:        lng,
	})
	return nil
}

func (m *MockLocationStore) FindNearbyProviders(ctx context.Context, lat, lng, radiusKm float64) ([]redis.ProviderLocation, error) {
	if m.FindNearbyProvidersError != nil {
		return nil, m.FindNearbyProvidersError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Return all locations (mock doesn't do real geo filtering).
	result := make([]redis.ProviderLocation, len(m.locations))
	copy(result, m.locations)
	return result, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, loc := range m.locations {
		if loc.ProviderID == providerID {
			m.locations = append(m.locations[:i], m.locations[i+1:]...)
			return nil
		}
	}
	return nil
}

// HasLocation checks if a provider location exists.
func (m *MockLocationStore) HasLocation(providerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, loc := range m.locations {
		if loc.ProviderID == providerID {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStore.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]string

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error

	// Force lock failure
	ForceAcquireFailure bool
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]string),
	}
}

func (m *MockLockStore) AcquireRequestLock(ctx context.Context, requestID, actorID string, ttl time.Duration) (string, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return "", m.AcquireError
	}
	if m.ForceAcquireFailure {
		return "", nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := requestID + ":" + actorID
	if _, held := m.locks[key]; held {
		return "", nil
	}
	token := uuid.NewString()
	m.locks[key] = token
	return token, nil
}

func (m *MockLockStore) ReleaseRequestLock(ctx context.Context, requestID, actorID, token string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := requestID + ":" + actorID
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

// IsLocked checks if a request is locked by an actor (for test assertions).
func (m *MockLockStore) IsLocked(requestID, actorID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[requestID+":"+actorID]
	return held
}

// ──────────────────────────────────────────────
// MOCK CACHE STORE
// ──────────────────────────────────────────────

// MockCacheStore is a mock implementation of CacheStore. Entries never expire.
type MockCacheStore struct {
	mu       sync.RWMutex
	active   map[string]*redis.CachedActiveRequest
	settings map[string]string
	online   map[string]bool

	// Counters
	InvalidateCallCount int32
	SetActiveCallCount  int32
}

// NewMockCacheStore creates a new mock cache store.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{
		active:   make(map[string]*redis.CachedActiveRequest),
		settings: make(map[string]string),
		online:   make(map[string]bool),
	}
}

func (m *MockCacheStore) GetActiveRequest(ctx context.Context, providerID string) (*redis.CachedActiveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cached, ok := m.active[providerID]
	if !ok {
		return nil, nil // Cache miss
	}
	copy := *cached
	return &copy, nil
}

func (m *MockCacheStore) SetActiveRequest(ctx context.Context, providerID string, req *redis.CachedActiveRequest) error {
	atomic.AddInt32(&m.SetActiveCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *req
	m.active[providerID] = &copy
	return nil
}

func (m *MockCacheStore) InvalidateActiveRequest(ctx context.Context, providerIDs ...string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range providerIDs {
		delete(m.active, id)
	}
	return nil
}

func (m *MockCacheStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *MockCacheStore) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *MockCacheStore) AddOnlineProvider(ctx context.Context, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[providerID] = true
	return nil
}

func (m *MockCacheStore) RemoveOnlineProvider(ctx context.Context, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.online, providerID)
	return nil
}

func (m *MockCacheStore) FilterOnline(ctx context.Context, ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if m.online[id] {
			result = append(result, id)
		}
	}
	return result, nil
}

// HasActiveRequest reports whether a snapshot is cached for a provider.
func (m *MockCacheStore) HasActiveRequest(providerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[providerID]
	return ok
}

// IsOnline reports whether a provider is in the online set.
func (m *MockCacheStore) IsOnline(providerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online[providerID]
}

// ──────────────────────────────────────────────
// MOCK FEED
// ──────────────────────────────────────────────

// MockFeed is an in-process change feed. Like the Redis feed it publishes
// each event to its table topic and its row topic.
type MockFeed struct {
	mu        sync.Mutex
	subs      []*mockSubscription
	published []domain.ChangeEvent

	// Counters
	SubscribeCallCount int32

	// Error injection
	SubscribeError error
	PublishError   error
}

// NewMockFeed creates a new mock feed.
func NewMockFeed() *MockFeed {
	return &MockFeed{}
}

func (m *MockFeed) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, ev)

	topics := []string{redis.TableTopic(ev.Table), redis.RowTopic(ev.Table, ev.RowID)}
	for _, sub := range m.subs {
		sub.deliver(ev, topics)
	}
	return nil
}

func (m *MockFeed) Subscribe(ctx context.Context, topics ...string) (redis.Subscription, error) {
	atomic.AddInt32(&m.SubscribeCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubscribeError != nil {
		return nil, m.SubscribeError
	}

	sub := &mockSubscription{
		topics: make(map[string]bool, len(topics)),
		events: make(chan domain.ChangeEvent, 64),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}
	m.subs = append(m.subs, sub)

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// DropAll ends every live subscription, as a lost connection would.
func (m *MockFeed) DropAll() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}

// SetSubscribeError changes the subscription failure under the feed lock.
func (m *MockFeed) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubscribeError = err
}

// Published returns the events published so far.
func (m *MockFeed) Published() []domain.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChangeEvent, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedFor returns the events published for one row.
func (m *MockFeed) PublishedFor(table, rowID string) []domain.ChangeEvent {
	var out []domain.ChangeEvent
	for _, ev := range m.Published() {
		if ev.Table == table && ev.RowID == rowID {
			out = append(out, ev)
		}
	}
	return out
}

// ActiveSubscriptions counts subscriptions that have not been closed.
func (m *MockFeed) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sub := range m.subs {
		if !sub.isClosed() {
			n++
		}
	}
	return n
}

type mockSubscription struct {
	mu     sync.Mutex
	topics map[string]bool
	events chan domain.ChangeEvent
	closed bool
}

func (s *mockSubscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

func (s *mockSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *mockSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *mockSubscription) deliver(ev domain.ChangeEvent, topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, t := range topics {
		if s.topics[t] {
			select {
			case s.events <- ev:
			default: // slow consumer, best effort like the real feed
			}
			return
		}
	}
}

// ──────────────────────────────────────────────
// MOCK QUOTER
// ──────────────────────────────────────────────

// MockQuoter is a mock pricing function.
type MockQuoter struct {
	mu sync.Mutex

	// Control behavior
	Quote *domain.Quote
	Err   error

	// Counters
	ComputeCallCount int32
	LastParams       quote.Params
}

// NewMockQuoter creates a mock quoter returning q.
func NewMockQuoter(q *domain.Quote) *MockQuoter {
	return &MockQuoter{Quote: q}
}

func (m *MockQuoter) Compute(ctx context.Context, p quote.Params) (*domain.Quote, error) {
	atomic.AddInt32(&m.ComputeCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastParams = p
	if m.Err != nil {
		return nil, m.Err
	}
	copy := *m.Quote
	return &copy, nil
}

// ──────────────────────────────────────────────
// HELPERS
// ──────────────────────────────────────────────

// waitFor polls cond until it holds or the timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
