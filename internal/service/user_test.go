package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/motorctl/motor-bot/internal/errors"
	"github.com/motorctl/motor-bot/internal/model"
)

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates new user", func(t *testing.T) {
		repo := new(mockUserRepo)
		created := &model.User{ID: 1, TelegramID: 42, Name: "Ada"}
		repo.On("FindByTelegramID", ctx, int64(42)).Return(nil, nil).Once()
		repo.On("Create", ctx, model.CreateUserParams{TelegramID: 42, Name: "Ada"}).Return(created, nil).Once()

		user, isNew, err := NewUserService(repo).Register(ctx, 42, "Ada")

		require.NoError(t, err)
		assert.True(t, isNew)
		assert.Equal(t, created, user)
		repo.AssertExpectations(t)
	})

	t.Run("returns existing user", func(t *testing.T) {
		repo := new(mockUserRepo)
		existing := &model.User{ID: 1, TelegramID: 42, Name: "Ada"}
		repo.On("FindByTelegramID", ctx, int64(42)).Return(existing, nil).Once()

		user, isNew, err := NewUserService(repo).Register(ctx, 42, "Ada")

		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, existing, user)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("concurrent sign-up reloads the winner", func(t *testing.T) {
		repo := new(mockUserRepo)
		existing := &model.User{ID: 1, TelegramID: 42}
		repo.On("FindByTelegramID", ctx, int64(42)).Return(nil, nil).Once()
		repo.On("Create", ctx, mock.Anything).Return(nil, &pq.Error{Code: "23505"}).Once()
		repo.On("FindByTelegramID", ctx, int64(42)).Return(existing, nil).Once()

		user, isNew, err := NewUserService(repo).Register(ctx, 42, "Ada")

		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, existing, user)
	})

	t.Run("wraps database errors", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("FindByTelegramID", ctx, int64(42)).Return(nil, errors.New("connection refused")).Once()

		_, _, err := NewUserService(repo).Register(ctx, 42, "Ada")

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	})
}

func TestUserService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user is not registered", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("FindByTelegramID", ctx, int64(7)).Return(nil, nil).Once()

		_, err := NewUserService(repo).Get(ctx, 7)

		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotRegistered))
	})

	t.Run("returns premium flag", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("FindByTelegramID", ctx, int64(7)).
			Return(&model.User{TelegramID: 7, SubscriptionType: model.SubscriptionPremium}, nil).Once()

		user, err := NewUserService(repo).Get(ctx, 7)

		require.NoError(t, err)
		assert.True(t, user.Premium())
	})
}

func TestUserService_Exists(t *testing.T) {
	ctx := context.Background()
	repo := new(mockUserRepo)
	repo.On("Exists", ctx, int64(7)).Return(true, nil).Once()

	exists, err := NewUserService(repo).Exists(ctx, 7)

	require.NoError(t, err)
	assert.True(t, exists)
}
