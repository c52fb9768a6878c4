package handler

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/motorctl/motor-bot/internal/model"
	"github.com/motorctl/motor-bot/internal/pairing"
)

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) Register(ctx context.Context, telegramID int64, name string) (*model.User, bool, error) {
	args := m.Called(ctx, telegramID, name)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.User), args.Bool(1), args.Error(2)
}

func (m *mockUsers) Get(ctx context.Context, telegramID int64) (*model.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

type mockDevices struct {
	mock.Mock
}

func (m *mockDevices) Exists(ctx context.Context, serial string) (bool, error) {
	args := m.Called(ctx, serial)
	return args.Bool(0), args.Error(1)
}

func (m *mockDevices) ListByOwner(ctx context.Context, telegramID int64) ([]model.Device, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Device), args.Error(1)
}

func (m *mockDevices) Owned(ctx context.Context, telegramID int64, serial string) (*model.Device, error) {
	args := m.Called(ctx, telegramID, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDevices) Remove(ctx context.Context, serial string) error {
	return m.Called(ctx, serial).Error(0)
}

func (m *mockDevices) RemoveOwned(ctx context.Context, telegramID int64, serial string) error {
	return m.Called(ctx, telegramID, serial).Error(0)
}

func (m *mockDevices) Start(ctx context.Context, serial string, startType model.StartType, speed int) error {
	return m.Called(ctx, serial, startType, speed).Error(0)
}

func (m *mockDevices) Stop(ctx context.Context, serial string) error {
	return m.Called(ctx, serial).Error(0)
}

func (m *mockDevices) Set(ctx context.Context, serial string, setting model.Setting, value int) error {
	return m.Called(ctx, serial, setting, value).Error(0)
}

func (m *mockDevices) Command(ctx context.Context, serial string, direction model.Direction, value int) error {
	return m.Called(ctx, serial, direction, value).Error(0)
}

type mockPairer struct {
	mock.Mock
}

func (m *mockPairer) PairDevice(ctx context.Context, serial string, userID int64) pairing.Result {
	return m.Called(ctx, serial, userID).Get(0).(pairing.Result)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) AllowPairing(ctx context.Context, telegramID int64, perMinute int) (bool, time.Time) {
	args := m.Called(ctx, telegramID, perMinute)
	return args.Bool(0), args.Get(1).(time.Time)
}

type sentMessage struct {
	chatID int64
	text   string
	kb     Keyboard
	photo  []byte
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *recordingSender) SendText(_ context.Context, chatID int64, text string, kb Keyboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, kb: kb})
	return nil
}

func (s *recordingSender) SendPhoto(_ context.Context, chatID int64, png []byte, caption string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: caption, photo: png})
	return nil
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.text
	}
	return out
}

func (s *recordingSender) last() sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentMessage{}
	}
	return s.sent[len(s.sent)-1]
}
