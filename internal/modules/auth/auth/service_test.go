package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huemap/core/internal/models"
	"github.com/huemap/core/internal/pkg/events"
	jwtpkg "github.com/huemap/core/internal/pkg/jwt"
	sessionpkg "github.com/huemap/core/internal/pkg/session"
	"github.com/huemap/core/internal/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordedEvents) Record(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	svc      *Service
	clock    *testClock
	users    *users.MemoryStore
	sessions *sessionpkg.MemoryStore
	events   *recordedEvents
	codec    *jwtpkg.Codec
}

// eventTypes waits for in-flight audit events before reading them.
func (f *fixture) eventTypes() []string {
	f.svc.WaitEvents()
	return f.events.types()
}

const tokenTTL = time.Hour

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	f := &fixture{
		clock:    clock,
		users:    users.NewMemoryStore(),
		sessions: sessionpkg.NewMemoryStore(clock.Now),
		events:   &recordedEvents{},
		codec:    jwtpkg.New("test-secret", tokenTTL, jwtpkg.WithClock(clock.Now)),
	}
	f.svc = NewService(f.users, f.sessions, f.codec,
		WithClock(clock.Now),
		WithRecorder(f.events),
		WithHashCost(bcrypt.MinCost),
	)
	return f
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "a@x.com", "pw-secret", "Ann")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", reg.User.Email)
	assert.Equal(t, "Ann", reg.User.Name)

	ok, err := f.svc.VerifyToken(ctx, reg.Token)
	require.NoError(t, err)
	assert.True(t, ok)

	login, err := f.svc.Login(ctx, "a@x.com", "pw-secret")
	require.NoError(t, err)
	ok, err = f.svc.VerifyToken(ctx, login.Token)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.ElementsMatch(t, []string{events.TypeUserRegistered, events.TypeUserLogin}, f.eventTypes())
}

func TestRegisterStoresHashedPassword(t *testing.T) {
	f := newFixture(t)
	reg, err := f.svc.Register(context.Background(), "a@x.com", "pw-secret", "Ann")
	require.NoError(t, err)

	u, err := f.users.FindByID(context.Background(), reg.User.ID)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.NotEqual(t, "pw-secret", u.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("pw-secret")))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "a@x.com", "pw-secret", "Ann")
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "A@X.com ", "other-pw", "Other")
	assert.ErrorIs(t, err, ErrConflict)
}

// racingUsers hides an existing account from FindByEmail, so Register gets
// past the pre-check and only the store's unique constraint can stop it.
type racingUsers struct{ *users.MemoryStore }

func (racingUsers) FindByEmail(context.Context, string) (*models.UserModel, error) { return nil, nil }

func TestRegisterUniqueConstraintIsBackstop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.users.Create(ctx, &models.UserModel{Email: "a@x.com", Password: "h"}))

	svc := NewService(racingUsers{f.users}, f.sessions, f.codec, WithClock(f.clock.Now), WithHashCost(bcrypt.MinCost))
	_, err := svc.Register(ctx, "a@x.com", "pw-secret", "Ann")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, f.sessions.Count())
}

func TestRegisterSucceedsWhenEventSinkFails(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("sink down")

	res, err := f.svc.Register(context.Background(), "a@x.com", "pw-secret", "Ann")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, []string{events.TypeUserRegistered}, f.eventTypes())
}

// stalledRecorder holds every event until released.
type stalledRecorder struct {
	release chan struct{}
	count   atomic.Int32
}

func (r *stalledRecorder) Record(context.Context, events.Event) error {
	<-r.release
	r.count.Add(1)
	return nil
}

func TestSlowEventSinkDoesNotDelayRequests(t *testing.T) {
	f := newFixture(t)
	rec := &stalledRecorder{release: make(chan struct{})}
	svc := NewService(f.users, f.sessions, f.codec,
		WithClock(f.clock.Now), WithRecorder(rec), WithHashCost(bcrypt.MinCost))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := svc.Register(ctx, "a@x.com", "pw-secret", "Ann")
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("register waited on the event sink")
	}
	assert.Equal(t, int32(0), rec.count.Load())

	cancel()
	close(rec.release)
	svc.WaitEvents()
	assert.Equal(t, int32(1), rec.count.Load())
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "a@x.com", "pw-secret", "Ann")
	require.NoError(t, err)

	_, unknown := f.svc.Login(ctx, "nobody@x.com", "pw-secret")
	_, wrong := f.svc.Login(ctx, "a@x.com", "bad-password")
	require.Error(t, unknown)
	require.Error(t, wrong)
	assert.Equal(t, unknown.Error(), wrong.Error())
	assert.ErrorIs(t, unknown, ErrInvalidCredentials)
	assert.ErrorIs(t, wrong, ErrInvalidCredentials)
}

func TestLogoutRevokesOnlyThatSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)
	login, err := f.svc.Login(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	assert.NotEqual(t, reg.Token, login.Token)
	assert.Equal(t, 2, f.sessions.CountForUser(reg.User.ID))

	require.NoError(t, f.svc.Logout(ctx, reg.Token))

	ok, err := f.svc.VerifyToken(ctx, reg.Token)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.svc.VerifyToken(ctx, login.Token)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLogoutIsIdempotentAndTolerant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, "Bearer "+reg.Token))
	require.NoError(t, f.svc.Logout(ctx, reg.Token))
	require.NoError(t, f.svc.Logout(ctx, ""))
	require.NoError(t, f.svc.Logout(ctx, "garbage"))

	logouts := 0
	for _, typ := range f.eventTypes() {
		if typ == events.TypeUserLogout {
			logouts++
		}
	}
	assert.Equal(t, 2, logouts, "only attributable credentials emit a logout event")
}

func TestLogoutDeletesUnparseableCredentialRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.Save(ctx, &models.UserSession{
		UserID: "u1", Token: "not-a-jwt", ExpiresAt: f.clock.Now().Add(time.Hour),
	}))

	require.NoError(t, f.svc.Logout(ctx, "not-a-jwt"))
	assert.Equal(t, 0, f.sessions.Count())
	assert.Empty(t, f.eventTypes())
}

func TestVerifyRequiresStoreAndSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// signed correctly but never stored
	orphan, err := f.codec.Issue("u1")
	require.NoError(t, err)
	ok, err := f.svc.VerifyToken(ctx, orphan)
	require.NoError(t, err)
	assert.False(t, ok)

	// stored but signed with another secret
	foreign := jwtpkg.New("other-secret", tokenTTL, jwtpkg.WithClock(f.clock.Now))
	forged, err := foreign.Issue("u1")
	require.NoError(t, err)
	require.NoError(t, f.sessions.Save(ctx, &models.UserSession{
		UserID: "u1", Token: forged, ExpiresAt: f.clock.Now().Add(time.Hour),
	}))
	ok, err = f.svc.VerifyToken(ctx, forged)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.VerifyToken(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyFalseAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)

	f.clock.Advance(tokenTTL + time.Second)
	ok, err := f.svc.VerifyToken(ctx, reg.Token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshWithinGracePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)

	f.clock.Advance(tokenTTL + time.Minute)
	res, err := f.svc.RefreshToken(ctx, reg.Token)
	require.NoError(t, err)
	assert.NotEqual(t, reg.Token, res.Token)
	assert.Equal(t, reg.User.ID, res.User.ID)

	old, _ := f.sessions.FindByCredential(ctx, reg.Token)
	assert.Nil(t, old, "old row must be deleted")
	assert.Equal(t, 1, f.sessions.CountForUser(reg.User.ID))

	ok, err := f.svc.VerifyToken(ctx, res.Token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, f.eventTypes(), events.TypeTokenRefreshed)
}

func TestRefreshBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)

	res, err := f.svc.RefreshToken(ctx, reg.Token)
	require.NoError(t, err)
	assert.NotEqual(t, reg.Token, res.Token)
	assert.Equal(t, 1, f.sessions.Count())
}

func TestRefreshBeyondGracePeriodDeletesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)

	f.clock.Advance(tokenTTL + 5*time.Minute)
	_, err = f.svc.RefreshToken(ctx, reg.Token)
	assert.ErrorIs(t, err, ErrGracePeriodExceeded)
	assert.Equal(t, 0, f.sessions.Count(), "stale row is cleaned up even on failure")

	_, err = f.svc.RefreshToken(ctx, reg.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshUnknownToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RefreshToken(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.RefreshToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshDeletedUserKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)

	require.NoError(t, f.users.Delete(ctx, reg.User.ID))
	_, err = f.svc.RefreshToken(ctx, reg.Token)
	assert.ErrorIs(t, err, ErrUserNotFound)

	row, _ := f.sessions.FindByCredential(ctx, reg.Token)
	assert.NotNil(t, row, "refresh never reached the delete step")
}

func TestGetUserIDFromToken(t *testing.T) {
	f := newFixture(t)
	reg, err := f.svc.Register(context.Background(), "a@x.com", "pw", "Ann")
	require.NoError(t, err)

	id, err := f.svc.GetUserIDFromToken(reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, id)

	_, err = f.svc.GetUserIDFromToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestLogoutAllAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "a@x.com", "pw")
	require.NoError(t, err)

	require.NoError(t, f.svc.LogoutAll(ctx, reg.User.ID))
	assert.Equal(t, 0, f.sessions.Count())

	_, err = f.svc.Login(ctx, "a@x.com", "pw")
	require.NoError(t, err)
	f.clock.Advance(tokenTTL)
	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// collidingSessions rejects the first n saves as duplicates.
type collidingSessions struct {
	*sessionpkg.MemoryStore
	remaining int
}

func (c *collidingSessions) Save(ctx context.Context, s *models.UserSession) error {
	if c.remaining > 0 {
		c.remaining--
		return sessionpkg.ErrDuplicateCredential
	}
	return c.MemoryStore.Save(ctx, s)
}

func TestIssueRetriesOnCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	store := &collidingSessions{MemoryStore: f.sessions, remaining: 1}
	svc := NewService(f.users, store, f.codec, WithClock(f.clock.Now), WithHashCost(bcrypt.MinCost))
	_, err := svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)

	store.remaining = issueAttempts
	_, err = svc.Login(ctx, "a@x.com", "pw")
	assert.ErrorIs(t, err, ErrCredentialExhausted)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestRegisterRollsBackUserWhenNoSessionIssued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	store := &collidingSessions{MemoryStore: f.sessions, remaining: issueAttempts}
	svc := NewService(f.users, store, f.codec, WithClock(f.clock.Now), WithHashCost(bcrypt.MinCost))
	_, err := svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.ErrorIs(t, err, ErrCredentialExhausted)

	u, err := f.users.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, u, "account without a session stays behind")

	res, err := svc.Register(ctx, "a@x.com", "pw", "Ann")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}
