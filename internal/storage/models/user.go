package models

import (
	"time"
)

// User is an identity record. The home calendar ID is assigned when the
// user is registered and never changes.
type User struct {
	ID             string    `db:"id" json:"userId"`
	Username       string    `db:"username" json:"username"`
	Email          *string   `db:"email" json:"email,omitempty"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	HomeCalendarID string    `db:"home_calendar_id" json:"homeCalendarId"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// HomeRef pairs a user with the home calendar it should own.
type HomeRef struct {
	UserID         string    `db:"id"`
	HomeCalendarID string    `db:"home_calendar_id"`
	CreatedAt      time.Time `db:"created_at"`
}
