// Package session holds the signed-in identity. It resolves a cached session at launch
// against the remote users collection and handles sign-in and sign-out.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/locvowork/task_management_sample/internal/cache"
	"github.com/locvowork/task_management_sample/internal/credential"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
)

// Cache is the local session cache.
type Cache interface {
	Load(ctx context.Context) (*domain.Identity, string, error)
	Save(ctx context.Context, identity *domain.Identity) error
	Clear(ctx context.Context) error
}

// DefaultResolveTimeout bounds ResolveExistingSession.
const DefaultResolveTimeout = 10 * time.Second

// Manager holds exactly one authenticated identity, or none.
type Manager struct {
	store          domain.IdentityStore
	cache          Cache
	now            func() time.Time
	resolveTimeout time.Duration

	// commitMu serializes session changes so observers see them in order.
	commitMu sync.Mutex

	mu      sync.RWMutex
	current *domain.Identity
	// epoch counts sign-ins and sign-outs. Launch resolution commits only if it is unchanged.
	epoch     uint64
	loading   bool
	loaded    chan struct{}
	loadOnce  sync.Once
	observers []func(*domain.Identity)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithResolveTimeout bounds how long launch resolution may wait on the remote store.
func WithResolveTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.resolveTimeout = d
		}
	}
}

// NewManager returns a Manager in the loading state.
func NewManager(store domain.IdentityStore, c Cache, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		cache:          c,
		now:            func() time.Time { return time.Now().UTC() },
		resolveTimeout: DefaultResolveTimeout,
		loading:        true,
		loaded:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns a copy of the signed-in identity, or nil.
func (m *Manager) Current() *domain.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// IsAuthenticated reports whether an identity is signed in.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// IsLoading reports whether launch resolution is still running.
func (m *Manager) IsLoading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Loaded is closed once launch resolution has finished, authenticated or not.
func (m *Manager) Loaded() <-chan struct{} { return m.loaded }

// OnChange registers fn to be called with the new identity (nil when signed out) after
// every change. Observers run synchronously in registration order.
func (m *Manager) OnChange(fn func(*domain.Identity)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) set(identity *domain.Identity) {
	m.mu.Lock()
	m.current = identity.Clone()
	observers := append([]func(*domain.Identity){}, m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(identity.Clone())
	}
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

func (m *Manager) bumpEpoch() {
	m.mu.Lock()
	m.epoch++
	m.mu.Unlock()
}

func (m *Manager) finishLoading() {
	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()
	m.loadOnce.Do(func() { close(m.loaded) })
}

// ResolveExistingSession restores the cached session at launch. It fails closed: every
// lookup failure ends signed out. It always finishes loading, within the resolve timeout.
// A sign-in or sign-out that completes while it runs wins, and its result is discarded.
func (m *Manager) ResolveExistingSession(ctx context.Context) *domain.Identity {
	ctx, cancel := context.WithTimeout(ctx, m.resolveTimeout)
	defer cancel()
	defer m.finishLoading()

	epoch := m.currentEpoch()
	found, discard := m.resolve(ctx)

	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	if m.currentEpoch() != epoch {
		logger.InfoLog(ctx, "session changed during launch resolution, keeping it")
		return m.Current()
	}
	if discard {
		m.clearCache(ctx)
	}
	var identity *domain.Identity
	if found != nil {
		identity = m.adopt(ctx, found)
	}
	m.set(identity)
	return identity.Clone()
}

// resolve looks the cached session up. It returns the identity to adopt, if any, and
// whether the cache should be cleared.
func (m *Manager) resolve(ctx context.Context) (*domain.Identity, bool) {
	discard := false
	cached, providerID, err := m.cache.Load(ctx)
	switch {
	case errors.Is(err, cache.ErrCorrupt):
		logger.WarnLog(ctx, fmt.Sprintf("discarding corrupt session cache: %v", err))
		cached, providerID, discard = nil, "", true
	case err != nil:
		logger.ErrorLog(ctx, fmt.Sprintf("failed to read session cache: %v", err))
		return nil, false
	}

	if cached != nil {
		identity, err := m.store.GetIdentity(ctx, cached.ID)
		switch {
		case err == nil:
			return identity, false
		case errors.Is(err, domain.ErrNotFound):
			logger.InfoLog(ctx, fmt.Sprintf("cached identity %s no longer exists, signing out", cached.ID))
			return nil, true
		default:
			logger.ErrorLog(ctx, fmt.Sprintf("failed to resolve cached identity %s: %v", cached.ID, err))
		}
		return nil, false
	}

	if providerID == "" {
		return nil, discard
	}

	// Partial cache: the identity record is gone but the provider id survived.
	identity, err := m.store.FindIdentityByProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, true
		}
		logger.ErrorLog(ctx, fmt.Sprintf("failed to recover session by provider id: %v", err))
		return nil, false
	}
	logger.InfoLog(ctx, fmt.Sprintf("recovered session for identity %s from provider id", identity.ID))
	return identity, false
}

// SignIn adopts the identity registered for cred, creating it on first sign-in.
func (m *Manager) SignIn(ctx context.Context, cred credential.Credential) (*domain.Identity, error) {
	if err := cred.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalid, err)
	}

	identity, err := m.store.FindIdentityByProvider(ctx, cred.ProviderID)
	if errors.Is(err, domain.ErrNotFound) {
		now := m.now()
		identity, err = m.store.CreateIdentity(ctx, &domain.Identity{
			Name:       cred.DisplayName(),
			Email:      cred.Email,
			ProviderID: cred.ProviderID,
			IsOnline:   true,
			LastSeen:   now,
			CreatedAt:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("create identity: %w", err)
		}
		logger.InfoLog(ctx, fmt.Sprintf("created identity %s", identity.ID))
	} else if err != nil {
		return nil, fmt.Errorf("look up identity: %w", err)
	}

	m.commitMu.Lock()
	m.bumpEpoch()
	identity = m.adopt(ctx, identity)
	m.set(identity)
	m.commitMu.Unlock()
	m.finishLoading()
	return identity.Clone(), nil
}

// SignOut marks the identity offline, clears the cache and forgets it. Signing out when
// nobody is signed in is a no-op.
func (m *Manager) SignOut(ctx context.Context) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	current := m.Current()
	if current == nil {
		return
	}
	m.bumpEpoch()
	if err := m.store.UpdatePresence(ctx, current.ID, false, m.now()); err != nil {
		logger.WarnLog(ctx, fmt.Sprintf("failed to mark %s offline: %v", current.ID, err))
	}
	m.clearCache(ctx)
	m.set(nil)
	logger.InfoLog(ctx, fmt.Sprintf("identity %s signed out", current.ID))
}

// adopt marks identity online and refreshes the cache with it.
func (m *Manager) adopt(ctx context.Context, identity *domain.Identity) *domain.Identity {
	now := m.now()
	if err := m.store.UpdatePresence(ctx, identity.ID, true, now); err != nil {
		logger.WarnLog(ctx, fmt.Sprintf("failed to mark %s online: %v", identity.ID, err))
	} else {
		identity.IsOnline = true
		identity.LastSeen = now
	}
	if err := m.cache.Save(ctx, identity); err != nil {
		logger.WarnLog(ctx, fmt.Sprintf("failed to cache session: %v", err))
	}
	return identity
}

func (m *Manager) clearCache(ctx context.Context) {
	if err := m.cache.Clear(ctx); err != nil {
		logger.WarnLog(ctx, fmt.Sprintf("failed to clear session cache: %v", err))
	}
}
