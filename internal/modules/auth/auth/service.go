package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huemap/core/internal/middleware"
	"github.com/huemap/core/internal/models"
	"github.com/huemap/core/internal/pkg/events"
	jwtpkg "github.com/huemap/core/internal/pkg/jwt"
	sessionpkg "github.com/huemap/core/internal/pkg/session"
	"github.com/huemap/core/internal/pkg/users"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	serviceName = "auth"

	// DefaultGracePeriod is how long after expiry a credential may still be
	// refreshed.
	DefaultGracePeriod = 3 * time.Minute

	issueAttempts = 3
)

// Compared against when the email is unknown so both login failures cost
// one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("huemap-dummy-password"), bcrypt.DefaultCost)

// Service is the session authority.
type Service struct {
	users    users.Store
	sessions sessionpkg.Store
	codec    *jwtpkg.Codec
	recorder events.Recorder
	events   *events.Dispatcher
	log      *zap.Logger
	now      func() time.Time
	grace    time.Duration
	hashCost int
}

type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log.Named("SessionAuthority")
		}
	}
}

func WithRecorder(r events.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithGracePeriod sets the refresh grace window. Negative values are treated as zero.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) {
		if d < 0 {
			d = 0
		}
		s.grace = d
	}
}

// WithHashCost sets the bcrypt cost used for new passwords.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

func NewService(u users.Store, sessions sessionpkg.Store, codec *jwtpkg.Codec, opts ...Option) *Service {
	s := &Service{
		users:    u,
		sessions: sessions,
		codec:    codec,
		recorder: events.Nop{},
		log:      zap.NewNop(),
		now:      time.Now,
		grace:    DefaultGracePeriod,
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = events.NewDispatcher(s.recorder, s.log)
	return s
}

// Register creates the account and its first session.
func (s *Service) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = users.NormalizeEmail(email)
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.UserModel{Email: email, Password: string(hash), Name: strings.TrimSpace(name)}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, err
	}

	token, err := s.issueSession(ctx, u.ID)
	if err != nil {
		// Without a session the account is unusable and would block a retry
		// with 409, so it is removed again.
		if derr := s.users.Delete(context.WithoutCancel(ctx), u.ID); derr != nil {
			s.log.Error("orphan user left after failed register", zap.String("user_id", u.ID), zap.Error(derr))
		}
		return nil, err
	}
	s.fire(ctx, events.TypeUserRegistered, u.ID, "user registered: "+u.Email)
	return &AuthResult{Token: token, User: profileOf(u)}, nil
}

// Login opens an additional session; existing sessions of the user stay valid.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.log.Debug("login failed: unknown email")
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		s.log.Debug("login failed: wrong password", zap.String("user_id", u.ID))
		return nil, ErrInvalidCredentials
	}

	token, err := s.issueSession(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	s.fire(ctx, events.TypeUserLogin, u.ID, "user logged in")
	return &AuthResult{Token: token, User: profileOf(u)}, nil
}

// Logout deletes the session row for the credential. Malformed, unknown or
// empty credentials are a no-op. The logout event is only recorded when the
// credential can be attributed to a user.
func (s *Service) Logout(ctx context.Context, raw string) error {
	token := middleware.NormalizeToken(raw)
	if token == "" {
		return nil
	}
	userID, subjectErr := s.codec.SubjectOf(token)
	if err := s.sessions.DeleteByCredential(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if subjectErr == nil {
		s.fire(ctx, events.TypeUserLogout, userID, "user logged out")
	}
	return nil
}

// LogoutAll deletes every session of the user.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	s.fire(ctx, events.TypeUserLogout, userID, "all sessions revoked")
	return nil
}

// VerifyToken reports whether the credential has a live session row and a
// valid signature. An error means the store could not be consulted.
func (s *Service) VerifyToken(ctx context.Context, raw string) (bool, error) {
	token := middleware.NormalizeToken(raw)
	if token == "" {
		return false, nil
	}
	row, err := s.sessions.FindByCredentialIfNotExpired(ctx, token, s.now())
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	return s.codec.IsValid(token), nil
}

// RefreshToken swaps the credential for a new one. Credentials that expired
// no longer ago than the grace period are accepted; older ones have their row
// deleted and fail with ErrGracePeriodExceeded.
func (s *Service) RefreshToken(ctx context.Context, raw string) (*AuthResult, error) {
	token := middleware.NormalizeToken(raw)
	row, err := s.sessions.FindByCredential(ctx, token)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrInvalidToken
	}

	now := s.now()
	if now.After(row.ExpiresAt) && now.Sub(row.ExpiresAt) > s.grace {
		if err := s.sessions.DeleteByCredential(ctx, token); err != nil {
			s.log.Warn("delete stale session failed", zap.String("user_id", row.UserID), zap.Error(err))
		}
		return nil, ErrGracePeriodExceeded
	}

	u, err := s.users.FindByID(ctx, row.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}

	if err := s.sessions.DeleteByCredential(ctx, token); err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	next, err := s.issueSession(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	s.fire(ctx, events.TypeTokenRefreshed, u.ID, "token refreshed")
	return &AuthResult{Token: next, User: profileOf(u)}, nil
}

// GetUserIDFromToken decodes the credential without consulting the store.
func (s *Service) GetUserIDFromToken(raw string) (string, error) {
	userID, err := s.codec.SubjectOf(middleware.NormalizeToken(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return userID, nil
}

// Profile returns the user bound to userID.
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	p := profileOf(u)
	return &p, nil
}

// SweepExpired deletes every session that has expired as of now.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.sessions.DeleteAllExpired(ctx, s.now())
}

// issueSession mints a credential and stores its row. A duplicate credential
// is retried with a fresh one; the store's unique index is what detects it.
func (s *Service) issueSession(ctx context.Context, userID string) (string, error) {
	for attempt := 0; attempt < issueAttempts; attempt++ {
		token, err := s.codec.Issue(userID)
		if err != nil {
			return "", fmt.Errorf("issue credential: %w", err)
		}
		row := &models.UserSession{
			UserID:    userID,
			Token:     token,
			ExpiresAt: s.codec.ExpiryOf(),
		}
		err = s.sessions.Save(ctx, row)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, sessionpkg.ErrDuplicateCredential) {
			return "", err
		}
		s.log.Warn("credential collision, reissuing", zap.String("user_id", userID), zap.Int("attempt", attempt+1))
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCredentialExhausted, issueAttempts)
}

// WaitEvents blocks until every audit event fired so far has been recorded
// or dropped.
func (s *Service) WaitEvents() {
	s.events.Wait()
}

func (s *Service) fire(ctx context.Context, eventType, userID, description string) {
	s.events.Fire(ctx, events.Event{
		ServiceName: serviceName,
		EventType:   eventType,
		UserID:      userID,
		Description: description,
		Severity:    events.SeverityInfo,
		Timestamp:   s.now().UTC(),
	})
}
