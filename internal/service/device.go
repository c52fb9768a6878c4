package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/motorctl/motor-bot/internal/audit"
	"github.com/motorctl/motor-bot/internal/bus"
	apperrors "github.com/motorctl/motor-bot/internal/errors"
	"github.com/motorctl/motor-bot/internal/model"
	"github.com/motorctl/motor-bot/internal/repository"
)

// MaxSpeed bounds speed and value payloads sent to a motor.
const MaxSpeed = 1000

type DeviceService struct {
	userRepo   repository.UserRepository
	deviceRepo repository.DeviceRepository
	publisher  bus.Publisher
}

func NewDeviceService(
	userRepo repository.UserRepository,
	deviceRepo repository.DeviceRepository,
	publisher bus.Publisher,
) *DeviceService {
	return &DeviceService{
		userRepo:   userRepo,
		deviceRepo: deviceRepo,
		publisher:  publisher,
	}
}

// AddDevice stores a device for the user with the given Telegram id. A serial
// that is already stored, by anyone, fails with ALREADY_EXISTS.
func (s *DeviceService) AddDevice(ctx context.Context, ownerTelegramID int64, serial, name string) (*model.Device, error) {
	if !bus.ValidSegment(serial) {
		return nil, errInvalidSerial()
	}

	user, err := s.userRepo.FindByTelegramID(ctx, ownerTelegramID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotRegistered()
	}

	exists, err := s.deviceRepo.ExistsBySerial(ctx, serial)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if exists {
		return nil, apperrors.AlreadyExists("Device")
	}

	device, err := s.deviceRepo.Create(ctx, model.CreateDeviceParams{
		SerialNumber: serial,
		Name:         name,
		UserID:       user.ID,
	})
	if repository.IsUniqueViolation(err) {
		return nil, apperrors.AlreadyExists("Device")
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Int64("telegramId", ownerTelegramID).
		Str("serial", serial).
		Msg("device added")
	return device, nil
}

// UserRegistered reports whether telegramID may own devices.
func (s *DeviceService) UserRegistered(ctx context.Context, telegramID int64) (bool, error) {
	exists, err := s.userRepo.Exists(ctx, telegramID)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return exists, nil
}

func (s *DeviceService) Exists(ctx context.Context, serial string) (bool, error) {
	exists, err := s.deviceRepo.ExistsBySerial(ctx, serial)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return exists, nil
}

func (s *DeviceService) ListByOwner(ctx context.Context, telegramID int64) ([]model.Device, error) {
	user, err := s.userRepo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotRegistered()
	}

	devices, err := s.deviceRepo.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return devices, nil
}

// Owned returns the device if it belongs to telegramID.
func (s *DeviceService) Owned(ctx context.Context, telegramID int64, serial string) (*model.Device, error) {
	user, err := s.userRepo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotRegistered()
	}

	device, err := s.deviceRepo.FindBySerial(ctx, serial)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if device == nil || device.UserID != user.ID {
		return nil, apperrors.NotFound("Device")
	}
	return device, nil
}

// Remove tells the device it is unpaired and deletes its record.
func (s *DeviceService) Remove(ctx context.Context, serial string) error {
	device, err := s.deviceRepo.FindBySerial(ctx, serial)
	if err != nil {
		return apperrors.Database(err)
	}
	if device == nil {
		return apperrors.NotFound("Device")
	}

	// The record goes away even if the device is offline.
	if err := s.publish(ctx, bus.DeviceTopic(serial, bus.PurposeUnpair), model.UnpairNotice{Type: model.PairingTypeUnpair}); err != nil {
		log.Warn().Err(err).Str("serial", serial).Msg("unpair notice not delivered")
	}

	if _, err := s.deviceRepo.Delete(ctx, serial); err != nil {
		return apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventDeviceRemoved, Serial: serial})
	return nil
}

// RemoveOwned removes serial after checking it belongs to telegramID.
func (s *DeviceService) RemoveOwned(ctx context.Context, telegramID int64, serial string) error {
	if _, err := s.Owned(ctx, telegramID, serial); err != nil {
		return err
	}
	return s.Remove(ctx, serial)
}

func (s *DeviceService) Start(ctx context.Context, serial string, startType model.StartType, speed int) error {
	if !bus.ValidSegment(serial) {
		return errInvalidSerial()
	}
	if !startType.Valid() {
		return apperrors.InvalidInput("type", fmt.Sprintf("unknown start type %q", startType))
	}
	if err := validateSpeed("speed", speed); err != nil {
		return err
	}
	return s.publish(ctx, bus.DeviceTopic(serial, bus.PurposeStart, string(startType)), model.SpeedPayload{Speed: speed})
}

func (s *DeviceService) Stop(ctx context.Context, serial string) error {
	if !bus.ValidSegment(serial) {
		return errInvalidSerial()
	}
	return s.publish(ctx, bus.DeviceTopic(serial, bus.PurposeStop), model.SpeedPayload{Speed: 0})
}

func (s *DeviceService) Set(ctx context.Context, serial string, setting model.Setting, value int) error {
	if !bus.ValidSegment(serial) {
		return errInvalidSerial()
	}
	if !setting.Valid() {
		return apperrors.InvalidInput("setting", fmt.Sprintf("unknown setting %q", setting))
	}
	if err := validateSpeed("value", value); err != nil {
		return err
	}
	return s.publish(ctx, bus.DeviceTopic(serial, bus.PurposeSet, string(setting)), model.ValuePayload{Value: value})
}

func (s *DeviceService) Command(ctx context.Context, serial string, direction model.Direction, value int) error {
	if !bus.ValidSegment(serial) {
		return errInvalidSerial()
	}
	if !direction.Valid() {
		return apperrors.InvalidInput("direction", fmt.Sprintf("unknown direction %q", direction))
	}
	if direction == model.DirectionUpdate {
		return s.RequestUpdate(ctx, serial)
	}
	if err := validateSpeed("value", value); err != nil {
		return err
	}
	return s.publish(ctx, bus.DeviceTopic(serial, bus.PurposeCmd, string(direction)), model.ValuePayload{Value: value})
}

// RequestUpdate asks the device to pull a firmware update.
func (s *DeviceService) RequestUpdate(ctx context.Context, serial string) error {
	if !bus.ValidSegment(serial) {
		return errInvalidSerial()
	}
	return s.publishRaw(ctx, bus.DeviceTopic(serial, bus.PurposeCmd, string(model.DirectionUpdate)), nil)
}

func (s *DeviceService) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return apperrors.Internal("failed to encode payload").WithCause(err)
	}
	return s.publishRaw(ctx, topic, payload)
}

func (s *DeviceService) publishRaw(ctx context.Context, topic string, payload []byte) error {
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		return apperrors.BusUnavailable(err)
	}
	log.Debug().Str("topic", topic).Msg("device command published")
	return nil
}

func validateSpeed(field string, v int) error {
	if v < 0 || v > MaxSpeed {
		return apperrors.InvalidInput(field, fmt.Sprintf("must be between 0 and %d", MaxSpeed))
	}
	return nil
}

func errInvalidSerial() error {
	return apperrors.InvalidInput("serial_number", "must be a non-empty topic segment")
}
