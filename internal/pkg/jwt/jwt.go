package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultSecret = "huemap-secret-change-me"

var (
	// ErrInvalidCredential is returned when a credential is malformed or its
	// signature does not verify.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrEmptySubject is returned when issuing a credential without a user id.
	ErrEmptySubject = errors.New("credential subject is empty")
)

// Claims is the JWT payload.
type Claims struct {
	UserID string `json:"uid"`
	jwtlib.RegisteredClaims
}

// Codec signs and parses HS256 credentials with a shared secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for issue and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a codec. An empty secret falls back to a built-in default.
// A zero or negative ttl yields credentials that are already expired.
func New(secret string, ttl time.Duration, opts ...Option) *Codec {
	if strings.TrimSpace(secret) == "" {
		secret = defaultSecret
	}
	c := &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lifetime returns the configured credential lifetime.
func (c *Codec) Lifetime() time.Duration { return c.ttl }

// Issue creates a signed credential for userID. Every call carries a fresh
// token id, so two credentials for the same user never collide.
func (c *Codec) Issue(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrEmptySubject
	}
	now := c.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(c.ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// ExpiryOf returns the expiry a credential issued right now would carry.
func (c *Codec) ExpiryOf() time.Time {
	return c.now().Add(c.ttl)
}

// SubjectOf returns the user id bound to the credential. Expiry is not
// checked; only structure and signature are.
func (c *Codec) SubjectOf(token string) (string, error) {
	claims, err := c.parse(token, jwtlib.WithoutClaimsValidation())
	if err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", ErrInvalidCredential
	}
	return claims.UserID, nil
}

// IsValid reports whether the credential has a good signature and has not
// expired. It never returns an error.
func (c *Codec) IsValid(token string) bool {
	_, err := c.parse(token, jwtlib.WithExpirationRequired())
	return err == nil
}

// IsExpired reports true for expired credentials and for anything that cannot
// be parsed or verified.
func (c *Codec) IsExpired(token string) bool {
	claims, err := c.parse(token, jwtlib.WithoutClaimsValidation())
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return !c.now().Before(claims.ExpiresAt.Time)
}

func (c *Codec) parse(tokenStr string, opts ...jwtlib.ParserOption) (*Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, ErrInvalidCredential
	}
	opts = append(opts,
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithTimeFunc(c.now),
	)
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
