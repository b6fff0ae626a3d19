package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huemap/core/internal/database"
	"github.com/huemap/core/internal/models"
	"gorm.io/gorm"
)

// ErrEmailTaken is returned by Create when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Store persists user accounts.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*models.UserModel, error)
	FindByID(ctx context.Context, id string) (*models.UserModel, error)
	Create(ctx context.Context, u *models.UserModel) error
	// Delete removes the user; an unknown or blank id is a no-op.
	Delete(ctx context.Context, id string) error
}

// NormalizeEmail lower-cases and trims an address before lookup or insert.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type GormStore struct{ db *gorm.DB }

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) FindByEmail(ctx context.Context, email string) (*models.UserModel, error) {
	return s.first(ctx, "email = ?", NormalizeEmail(email))
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*models.UserModel, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormStore) first(ctx context.Context, query string, arg string) (*models.UserModel, error) {
	if arg == "" {
		return nil, nil
	}
	var u models.UserModel
	err := s.db.WithContext(ctx).Where(query, arg).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts the user. The unique index on email is the backstop for
// concurrent registrations that both passed the existence check.
func (s *GormStore) Create(ctx context.Context, u *models.UserModel) error {
	u.Email = NormalizeEmail(u.Email)
	err := s.db.WithContext(ctx).Create(u).Error
	if database.IsDuplicateKey(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.UserModel{}).Error; err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]models.UserModel
	byEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]models.UserModel),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (*models.UserModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	u := m.byID[id]
	return &u, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*models.UserModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) Create(_ context.Context, u *models.UserModel) error {
	u.Email = NormalizeEmail(u.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.byID[u.ID] = *u
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		delete(m.byEmail, u.Email)
		delete(m.byID, id)
	}
	return nil
}
