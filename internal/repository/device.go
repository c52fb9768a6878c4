package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/motorctl/motor-bot/internal/model"
)

type DeviceRepository interface {
	FindBySerial(ctx context.Context, serial string) (*model.Device, error)
	ExistsBySerial(ctx context.Context, serial string) (bool, error)
	FindByUserID(ctx context.Context, userID int64) ([]model.Device, error)
	Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error)
	Delete(ctx context.Context, serial string) (bool, error)
}

type deviceRepo struct {
	db sqlxDB
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) FindBySerial(ctx context.Context, serial string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices WHERE serial_number = $1
	`, serial)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) ExistsBySerial(ctx context.Context, serial string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM devices WHERE serial_number = $1)
	`, serial)
	return exists, err
}

func (r *deviceRepo) FindByUserID(ctx context.Context, userID int64) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.SelectContext(ctx, &devices, `
		SELECT * FROM devices
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// Create inserts a device. A duplicate serial number surfaces as a unique
// violation; see IsUniqueViolation.
func (r *deviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		INSERT INTO devices (serial_number, name, user_id)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.SerialNumber, params.Name, params.UserID)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepo) Delete(ctx context.Context, serial string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM devices WHERE serial_number = $1
	`, serial)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
