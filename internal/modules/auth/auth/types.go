package auth

import (
	"errors"
	"time"

	"github.com/huemap/core/internal/models"
)

var (
	// ErrInvalidCredential: the credential is malformed or its signature is wrong.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidCredentials: unknown email or wrong password. Both cases look
	// identical to callers.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrConflict: the email is already registered.
	ErrConflict = errors.New("conflict")
	// ErrCredentialExhausted: every attempt to mint a session hit an existing
	// credential. Transient; the caller may retry.
	ErrCredentialExhausted = errors.New("could not issue a unique credential")
	// ErrInvalidToken: refresh was called with a credential that has no session.
	ErrInvalidToken = errors.New("invalid token")
	// ErrGracePeriodExceeded: the credential expired longer ago than the
	// refresh grace window allows.
	ErrGracePeriodExceeded = errors.New("token expired beyond grace period")
	// ErrUserNotFound: the session's owner no longer exists.
	ErrUserNotFound = errors.New("user not found")
)

type RegisterDTO struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name"     binding:"required"`
}

type LoginDTO struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshDTO struct {
	Token string `json:"token"`
}

// Profile is the public view of a user.
type Profile struct {
	ID      string    `json:"id"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

func profileOf(u *models.UserModel) Profile {
	return Profile{ID: u.ID, Email: u.Email, Name: u.Name, Created: u.CreatedAt}
}

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	Token string  `json:"token"`
	User  Profile `json:"user"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}
