package model

import (
	"time"
)

type User struct {
	ID               int64            `db:"user_id" json:"id"`
	TelegramID       int64            `db:"telegram_id" json:"telegramId"`
	Name             string           `db:"name" json:"name"`
	SubscriptionType SubscriptionTier `db:"subscription_type" json:"subscriptionType"`
	CreatedAt        time.Time        `db:"created_at" json:"createdAt"`
}

func (u *User) Premium() bool {
	return u.SubscriptionType == SubscriptionPremium
}

type CreateUserParams struct {
	TelegramID int64
	Name       string
}
