package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-chain"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

var testEpoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock shared by every service under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []auth.Event
}

func (r *eventRecorder) Record(_ context.Context, event auth.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) Named(name auth.EventName) []auth.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) Names() []auth.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.EventName, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

func (r *eventRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	require.NoError(t, auth.CreateSchema(context.Background(), bunDB))

	t.Cleanup(func() {
		_ = bunDB.Close()
	})
	return bunDB
}

type testEnv struct {
	ctx    context.Context
	db     *bun.DB
	repos  auth.RepositoryManager
	clock  *fakeClock
	events *eventRecorder
	hasher auth.PasswordHasher
	cfg    auth.Config
	auth   *auth.Authenticator
}

func testConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.SigningKey = "test-signing-key"
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

func setupEnv(t *testing.T, mutate ...func(*auth.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	clock := newFakeClock()
	db := setupDB(t)
	repos := auth.NewRepositoryManager(db, auth.WithIdentitiesClock(clock))
	events := &eventRecorder{}
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	authenticator, err := auth.NewAuthenticator(repos, cfg,
		auth.WithClock(clock),
		auth.WithEventSink(events),
		auth.WithPasswordHasher(hasher),
	)
	require.NoError(t, err)

	return &testEnv{
		ctx:    context.Background(),
		db:     db,
		repos:  repos,
		clock:  clock,
		events: events,
		hasher: hasher,
		cfg:    cfg,
		auth:   authenticator,
	}
}

// register creates a claimed identity with password.
func (e *testEnv) register(t *testing.T, email, password string) *auth.Identity {
	t.Helper()
	res, err := e.auth.RegisterIdentity(e.ctx, auth.RegistrationRequest{
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return res.Identity
}

// insertIdentity stores identity directly, bypassing the registrar.
func (e *testEnv) insertIdentity(t *testing.T, identity *auth.Identity) *auth.Identity {
	t.Helper()
	if identity.PasswordHash == "" {
		hash, err := e.hasher.Hash("secret-password")
		require.NoError(t, err)
		identity.PasswordHash = hash
	}
	created, err := e.repos.Identities().Create(e.ctx, identity)
	require.NoError(t, err)
	return created
}

func (e *testEnv) unclaimed(t *testing.T, email string) *auth.Identity {
	t.Helper()
	res, err := e.auth.RegisterIdentity(e.ctx, auth.RegistrationRequest{
		Email:     email,
		Unclaimed: true,
	})
	require.NoError(t, err)
	require.True(t, res.Identity.Unclaimed())
	return res.Identity
}
