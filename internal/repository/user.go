package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/motorctl/motor-bot/internal/model"
)

type UserRepository interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	Exists(ctx context.Context, telegramID int64) (bool, error)
	Create(ctx context.Context, params model.CreateUserParams) (*model.User, error)
	Delete(ctx context.Context, telegramID int64) error
}

type userRepo struct {
	db sqlxDB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE telegram_id = $1
	`, telegramID)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Exists(ctx context.Context, telegramID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM users WHERE telegram_id = $1)
	`, telegramID)
	return exists, err
}

func (r *userRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (telegram_id, name, subscription_type)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.TelegramID, params.Name, model.SubscriptionFree)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) Delete(ctx context.Context, telegramID int64) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM users WHERE telegram_id = $1
	`, telegramID)
	return err
}
