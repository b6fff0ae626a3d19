package users

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/huemap/core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

func TestMemoryStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	u := &models.UserModel{Email: " Ann@X.com ", Password: "hash", Name: "Ann"}
	require.NoError(t, m.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "ann@x.com", u.Email)

	byEmail, err := m.FindByEmail(ctx, "ANN@x.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)

	byID, err := m.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "Ann", byID.Name)

	err = m.Create(ctx, &models.UserModel{Email: "ann@x.com", Password: "other"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	require.NoError(t, m.Delete(ctx, u.ID))
	gone, err := m.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}),
		&gorm.Config{SkipDefaultTransaction: true, Logger: logger.Discard})
	require.NoError(t, err)
	return NewGormStore(db), mock
}

func TestGormCreate_DuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `users`")).
		WillReturnError(&mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := store.Create(context.Background(), &models.UserModel{Email: "a@x.com", Password: "h"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormFindByEmail_NormalizesInput(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "email", "password", "name"}).
		AddRow("u1", "a@x.com", "hash", "Ann")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users` WHERE email = ?")).
		WillReturnRows(rows)

	u, err := store.FindByEmail(context.Background(), "  A@X.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)
}

func TestGormDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `users` WHERE id = ?")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "u1"))
	require.NoError(t, store.Delete(context.Background(), "  "))
	assert.NoError(t, mock.ExpectationsWereMet())
}
