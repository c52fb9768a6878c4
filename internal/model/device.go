package model

import (
	"time"
)

type Device struct {
	ID           int64     `db:"device_id" json:"id"`
	SerialNumber string    `db:"serial_number" json:"serialNumber"`
	Name         string    `db:"name" json:"name"`
	UserID       int64     `db:"user_id" json:"userId"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

type CreateDeviceParams struct {
	SerialNumber string
	Name         string
	UserID       int64
}
