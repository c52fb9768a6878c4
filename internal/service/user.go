package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/motorctl/motor-bot/internal/audit"
	apperrors "github.com/motorctl/motor-bot/internal/errors"
	"github.com/motorctl/motor-bot/internal/model"
	"github.com/motorctl/motor-bot/internal/repository"
)

type UserService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// Register creates the user for telegramID. created is false when the user
// already existed, in which case the stored record is returned.
func (s *UserService) Register(ctx context.Context, telegramID int64, name string) (user *model.User, created bool, err error) {
	existing, err := s.userRepo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, apperrors.Database(err)
	}
	if existing != nil {
		return existing, false, nil
	}

	user, err = s.userRepo.Create(ctx, model.CreateUserParams{
		TelegramID: telegramID,
		Name:       name,
	})
	if repository.IsUniqueViolation(err) {
		// Lost a race with a concurrent sign-up.
		existing, err = s.userRepo.FindByTelegramID(ctx, telegramID)
		if err != nil || existing == nil {
			return nil, false, apperrors.Database(fmt.Errorf("reload user after conflict: %w", err))
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Database(err)
	}

	log.Info().Int64("telegramId", telegramID).Msg("user registered")
	audit.Log(ctx, audit.Event{Type: audit.EventUserRegister, TelegramID: telegramID})
	return user, true, nil
}

func (s *UserService) Exists(ctx context.Context, telegramID int64) (bool, error) {
	exists, err := s.userRepo.Exists(ctx, telegramID)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return exists, nil
}

// Get returns the user or a NOT_REGISTERED error.
func (s *UserService) Get(ctx context.Context, telegramID int64) (*model.User, error) {
	user, err := s.userRepo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotRegistered()
	}
	return user, nil
}
