package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/motorctl/motor-bot/internal/model"
)

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) Exists(ctx context.Context, telegramID int64) (bool, error) {
	args := m.Called(ctx, telegramID)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) Delete(ctx context.Context, telegramID int64) error {
	args := m.Called(ctx, telegramID)
	return args.Error(0)
}

type mockDeviceRepo struct {
	mock.Mock
}

func (m *mockDeviceRepo) FindBySerial(ctx context.Context, serial string) (*model.Device, error) {
	args := m.Called(ctx, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) ExistsBySerial(ctx context.Context, serial string) (bool, error) {
	args := m.Called(ctx, serial)
	return args.Bool(0), args.Error(1)
}

func (m *mockDeviceRepo) FindByUserID(ctx context.Context, userID int64) ([]model.Device, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Device), args.Error(1)
}

func (m *mockDeviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) Delete(ctx context.Context, serial string) (bool, error) {
	args := m.Called(ctx, serial)
	return args.Bool(0), args.Error(1)
}
