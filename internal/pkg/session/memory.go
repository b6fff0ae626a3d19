package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huemap/core/internal/models"
)

// MemoryStore is an in-process Store. The credential uniqueness rule is
// enforced under the same lock as the insert.
type MemoryStore struct {
	mu      sync.RWMutex
	byToken map[string]models.UserSession
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now for
// CreatedAt stamps.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{byToken: make(map[string]models.UserSession), now: now}
}

func (m *MemoryStore) FindByCredential(_ context.Context, credential string) (*models.UserSession, error) {
	if credential == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.byToken[credential]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *MemoryStore) FindByCredentialIfNotExpired(ctx context.Context, credential string, asOf time.Time) (*models.UserSession, error) {
	row, err := m.FindByCredential(ctx, credential)
	if err != nil || row == nil {
		return nil, err
	}
	if !row.ExpiresAt.After(asOf) {
		return nil, nil
	}
	return row, nil
}

func (m *MemoryStore) DeleteByCredential(_ context.Context, credential string) error {
	if credential == "" {
		return nil
	}
	m.mu.Lock()
	delete(m.byToken, credential)
	m.mu.Unlock()
	return nil
}

// DeleteAllForUser treats a blank userID as a no-op, like GormStore.
func (m *MemoryStore) DeleteAllForUser(_ context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, row := range m.byToken {
		if row.UserID == userID {
			delete(m.byToken, token)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteAllExpired(_ context.Context, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, row := range m.byToken {
		if !row.ExpiresAt.After(asOf) {
			delete(m.byToken, token)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Save(_ context.Context, sess *models.UserSession) error {
	if sess == nil || sess.Token == "" {
		return errors.New("session credential is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byToken[sess.Token]; exists {
		return ErrDuplicateCredential
	}
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = m.now()
	}
	m.byToken[sess.Token] = *sess
	return nil
}

// Count returns the number of stored rows, expired or not.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byToken)
}

// CountForUser returns the number of rows owned by userID.
func (m *MemoryStore) CountForUser(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, row := range m.byToken {
		if row.UserID == userID {
			n++
		}
	}
	return n
}
