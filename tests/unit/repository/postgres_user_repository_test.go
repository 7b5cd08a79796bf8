package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"creditledger/internal/models"
	repository "creditledger/internal/repository/postgres"
	pkgerrors "creditledger/pkg/errors"
)

func TestPostgresUserRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("NilUser", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilUser)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingFields", func(t *testing.T) {
		err := repo.Create(ctx, &models.User{Username: "testuser"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UsernameExists", func(t *testing.T) {
		user := &models.User{Username: "testuser", PasswordHash: "hash"}
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(user.Username, user.PasswordHash, false).
			WillReturnError(&pq.Error{Code: "23505"})

		err := repo.Create(ctx, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUsernameExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success", func(t *testing.T) {
		user := &models.User{Username: "testuser", PasswordHash: "hash"}
		now := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(user.Username, user.PasswordHash, false).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int32(1), now))

		err := repo.Create(ctx, user)
		assert.NoError(t, err)
		assert.Equal(t, int32(1), user.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_GetByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	query := `SELECT id, username, password_hash, is_admin, created_at FROM users WHERE username = $1`

	t.Run("Success", func(t *testing.T) {
		createdAt := time.Now().UTC()
		expectedUser := &models.User{
			ID:           1,
			Username:     "testuser",
			PasswordHash: "hash",
			IsAdmin:      true,
			CreatedAt:    createdAt,
		}
		mock.ExpectQuery(regexp.QuoteMeta(query)).
			WithArgs("testuser").
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "is_admin", "created_at"}).
				AddRow(expectedUser.ID, expectedUser.Username, expectedUser.PasswordHash, expectedUser.IsAdmin, expectedUser.CreatedAt))

		user, err := repo.GetByUsername(ctx, "testuser")
		assert.NoError(t, err)
		assert.Equal(t, expectedUser, user)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmptyUsername", func(t *testing.T) {
		user, err := repo.GetByUsername(ctx, "")
		assert.Nil(t, user)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserNotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(query)).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		user, err := repo.GetByUsername(ctx, "ghost")
		assert.Nil(t, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(query)).
			WithArgs("testuser").
			WillReturnError(fmt.Errorf("database error"))

		user, err := repo.GetByUsername(ctx, "testuser")
		assert.Nil(t, user)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get user by username")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
