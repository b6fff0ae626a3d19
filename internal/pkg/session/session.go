package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huemap/core/internal/database"
	"github.com/huemap/core/internal/models"
	"gorm.io/gorm"
)

// ErrDuplicateCredential is returned by Save when another row already holds
// the same credential string.
var ErrDuplicateCredential = errors.New("session credential already exists")

// Store is the durable credential → session mapping.
type Store interface {
	FindByCredential(ctx context.Context, credential string) (*models.UserSession, error)
	FindByCredentialIfNotExpired(ctx context.Context, credential string, asOf time.Time) (*models.UserSession, error)
	DeleteByCredential(ctx context.Context, credential string) error
	DeleteAllForUser(ctx context.Context, userID string) error
	DeleteAllExpired(ctx context.Context, asOf time.Time) (int64, error)
	Save(ctx context.Context, s *models.UserSession) error
}

// GormStore keeps sessions in the user_sessions table.
type GormStore struct{ db *gorm.DB }

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

// FindByCredential returns the session with exactly this credential, or
// (nil, nil) when there is none.
func (s *GormStore) FindByCredential(ctx context.Context, credential string) (*models.UserSession, error) {
	if credential == "" {
		return nil, nil
	}
	var row models.UserSession
	err := s.db.WithContext(ctx).Where("token = ?", credential).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByCredentialIfNotExpired is FindByCredential restricted to rows with
// expires_at strictly after asOf.
func (s *GormStore) FindByCredentialIfNotExpired(ctx context.Context, credential string, asOf time.Time) (*models.UserSession, error) {
	if credential == "" {
		return nil, nil
	}
	var row models.UserSession
	err := s.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", credential, asOf).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *GormStore) DeleteByCredential(ctx context.Context, credential string) error {
	if credential == "" {
		return nil
	}
	return s.db.WithContext(ctx).Where("token = ?", credential).Delete(&models.UserSession{}).Error
}

func (s *GormStore) DeleteAllForUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.UserSession{}).Error
}

// DeleteAllExpired removes rows with expires_at <= asOf. A zero asOf is a no-op.
func (s *GormStore) DeleteAllExpired(ctx context.Context, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("expires_at <= ?", asOf).Delete(&models.UserSession{})
	return res.RowsAffected, res.Error
}

// Save inserts a new row; it never overwrites an existing credential.
func (s *GormStore) Save(ctx context.Context, sess *models.UserSession) error {
	if sess == nil || sess.Token == "" {
		return errors.New("session credential is empty")
	}
	err := s.db.WithContext(ctx).Create(sess).Error
	if database.IsDuplicateKey(err) {
		return ErrDuplicateCredential
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
