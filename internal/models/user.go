package models

import "time"

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the authenticated principal attached to a request. A nil
// *Identity means the guest session backed by local storage.
type Identity struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}
