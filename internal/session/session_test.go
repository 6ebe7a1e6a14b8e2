package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/locvowork/task_management_sample/internal/cache"
	"github.com/locvowork/task_management_sample/internal/credential"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/pkg/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 25, 9, 0, 0, 0, time.UTC)

type memCache struct {
	mu         sync.Mutex
	identity   *domain.Identity
	providerID string
	loadErr    error
	cleared    int
}

func (c *memCache) Load(context.Context) (*domain.Identity, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.Clone(), c.providerID, c.loadErr
}

func (c *memCache) Save(_ context.Context, identity *domain.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity.Clone()
	c.providerID = identity.ProviderID
	return nil
}

func (c *memCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity, c.providerID, c.loadErr = nil, "", nil
	c.cleared++
	return nil
}

type blockingStore struct {
	*memstore.Store
	err     error
	entered chan struct{}
}

func (s *blockingStore) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.entered != nil {
		close(s.entered)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func newManager(store domain.IdentityStore, c Cache) *Manager {
	return NewManager(store, c, WithClock(func() time.Time { return fixedNow }), WithResolveTimeout(time.Second))
}

func seed(t *testing.T, store *memstore.Store, providerID string) *domain.Identity {
	t.Helper()
	identity, err := store.CreateIdentity(context.Background(), &domain.Identity{Name: "Ann", ProviderID: providerID})
	require.NoError(t, err)
	return identity
}

func TestResolveExistingSession_CachedIdentity(t *testing.T) {
	store := memstore.New()
	identity := seed(t, store, "apple-1")
	c := &memCache{identity: identity, providerID: "apple-1"}

	m := newManager(store, c)
	assert.True(t, m.IsLoading())

	got := m.ResolveExistingSession(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, identity.ID, got.ID)
	assert.True(t, got.IsOnline)
	assert.False(t, m.IsLoading())
	assert.True(t, m.IsAuthenticated())

	remote, err := store.GetIdentity(context.Background(), identity.ID)
	require.NoError(t, err)
	assert.True(t, remote.IsOnline)
	assert.True(t, remote.LastSeen.Equal(fixedNow))
}

func TestResolveExistingSession_StaleCache(t *testing.T) {
	c := &memCache{identity: &domain.Identity{ID: "gone"}, providerID: "apple-1"}
	m := newManager(memstore.New(), c)

	assert.Nil(t, m.ResolveExistingSession(context.Background()))
	assert.False(t, m.IsLoading())
	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, 1, c.cleared)
	select {
	case <-m.Loaded():
	default:
		t.Fatal("loaded not signalled")
	}
}

func TestResolveExistingSession_RecoversFromProviderID(t *testing.T) {
	store := memstore.New()
	identity := seed(t, store, "apple-7")
	c := &memCache{providerID: "apple-7"}

	got := newManager(store, c).ResolveExistingSession(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, identity.ID, got.ID)
	require.NotNil(t, c.identity, "recovered identity is cached again")
	assert.Equal(t, identity.ID, c.identity.ID)
}

func TestResolveExistingSession_UnknownProviderID(t *testing.T) {
	c := &memCache{providerID: "apple-unknown"}
	m := newManager(memstore.New(), c)

	assert.Nil(t, m.ResolveExistingSession(context.Background()))
	assert.Equal(t, 1, c.cleared)
}

func TestResolveExistingSession_CorruptCache(t *testing.T) {
	store := memstore.New()
	identity := seed(t, store, "apple-3")

	c := &memCache{providerID: "apple-3", loadErr: cache.ErrCorrupt}
	m := newManager(store, c)
	got := m.ResolveExistingSession(context.Background())

	require.NotNil(t, got, "provider id left in a corrupt cache still recovers the session")
	assert.Equal(t, identity.ID, got.ID)
	assert.Equal(t, 1, c.cleared)
}

func TestResolveExistingSession_StaleSQLiteCache(t *testing.T) {
	sqlite, err := cache.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	defer sqlite.Close()
	ctx := context.Background()
	require.NoError(t, sqlite.Save(ctx, &domain.Identity{ID: "ghost"}))

	m := newManager(memstore.New(), sqlite)
	assert.Nil(t, m.ResolveExistingSession(ctx))

	identity, providerID, err := sqlite.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, identity, "stale entry is purged")
	assert.Empty(t, providerID)
}

func TestResolveExistingSession_FailsClosed(t *testing.T) {
	store := &blockingStore{Store: memstore.New(), err: errors.New("unavailable")}
	c := &memCache{identity: &domain.Identity{ID: "u1"}}

	m := newManager(store, c)
	assert.Nil(t, m.ResolveExistingSession(context.Background()))
	assert.False(t, m.IsAuthenticated())
	assert.Zero(t, c.cleared, "a transient failure keeps the cache for the next launch")
}

func TestResolveExistingSession_NeverHangs(t *testing.T) {
	store := &blockingStore{Store: memstore.New()}
	c := &memCache{identity: &domain.Identity{ID: "u1"}}
	m := NewManager(store, c, WithResolveTimeout(30*time.Millisecond))

	done := make(chan struct{})
	go func() {
		m.ResolveExistingSession(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolution did not terminate")
	}
	assert.False(t, m.IsLoading())
	assert.False(t, m.IsAuthenticated())
}

func TestSignIn_CreatesThenReuses(t *testing.T) {
	store := memstore.New()
	c := &memCache{}
	m := newManager(store, c)
	ctx := context.Background()
	cred := credential.Credential{ProviderID: "apple-5", GivenName: "Ann", FamilyName: "Lee", Email: "ann@example.com"}

	first, err := m.SignIn(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", first.Name)
	assert.True(t, first.IsOnline)
	assert.False(t, m.IsLoading())
	assert.Equal(t, first.ID, c.identity.ID)

	m.SignOut(ctx)
	second, err := m.SignIn(ctx, credential.Credential{ProviderID: "apple-5"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ann Lee", second.Name)

	all, err := store.ListAllIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSignIn_RejectsEmptyCredential(t *testing.T) {
	m := newManager(memstore.New(), &memCache{})
	_, err := m.SignIn(context.Background(), credential.Credential{})
	assert.ErrorIs(t, err, domain.ErrInvalid)
	assert.False(t, m.IsAuthenticated())
}

func TestSignOut(t *testing.T) {
	store := memstore.New()
	c := &memCache{}
	m := newManager(store, c)
	ctx := context.Background()

	var seen []*domain.Identity
	m.OnChange(func(identity *domain.Identity) { seen = append(seen, identity) })

	identity, err := m.SignIn(ctx, credential.Credential{ProviderID: "apple-8"})
	require.NoError(t, err)
	m.SignOut(ctx)
	m.SignOut(ctx)

	assert.Nil(t, m.Current())
	assert.Nil(t, c.identity)
	remote, err := store.GetIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.False(t, remote.IsOnline)

	require.Len(t, seen, 2, "second sign-out is a no-op")
	assert.Equal(t, identity.ID, seen[0].ID)
	assert.Nil(t, seen[1])
}

func TestSignIn_DuringLaunchResolutionWins(t *testing.T) {
	store := &blockingStore{Store: memstore.New(), entered: make(chan struct{})}
	c := &memCache{identity: &domain.Identity{ID: "u1"}}
	m := NewManager(store, c, WithClock(func() time.Time { return fixedNow }), WithResolveTimeout(200*time.Millisecond))

	var seen []*domain.Identity
	m.OnChange(func(identity *domain.Identity) { seen = append(seen, identity) })

	resolved := make(chan *domain.Identity, 1)
	go func() { resolved <- m.ResolveExistingSession(context.Background()) }()

	<-store.entered
	signedIn, err := m.SignIn(context.Background(), credential.Credential{ProviderID: "apple-9"})
	require.NoError(t, err)
	require.True(t, m.IsAuthenticated())

	select {
	case got := <-resolved:
		require.NotNil(t, got)
		assert.Equal(t, signedIn.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("resolution did not terminate")
	}
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, signedIn.ID, m.Current().ID)
	assert.Equal(t, signedIn.ID, c.identity.ID)
	assert.False(t, m.IsLoading())
	require.Len(t, seen, 1, "launch resolution does not announce a stale result")
	assert.Equal(t, signedIn.ID, seen[0].ID)
}

// gatedStore answers GetIdentity with ErrNotFound once release is closed.
type gatedStore struct {
	*memstore.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	close(s.entered)
	<-s.release
	return nil, domain.ErrNotFound
}

func TestSignIn_DuringLaunchResolutionKeepsCache(t *testing.T) {
	store := &gatedStore{Store: memstore.New(), entered: make(chan struct{}), release: make(chan struct{})}
	c := &memCache{identity: &domain.Identity{ID: "gone"}}
	m := newManager(store, c)

	done := make(chan struct{})
	go func() {
		m.ResolveExistingSession(context.Background())
		close(done)
	}()

	<-store.entered
	signedIn, err := m.SignIn(context.Background(), credential.Credential{ProviderID: "apple-10"})
	require.NoError(t, err)
	close(store.release)
	<-done

	assert.Zero(t, c.cleared, "the stale lookup must not clear the fresh session")
	require.NotNil(t, c.identity)
	assert.Equal(t, signedIn.ID, c.identity.ID)
	assert.Equal(t, signedIn.ID, m.Current().ID)
}
