package models

import "time"

// Account captures the login record of an identity. Only the username leaves
// the identity layer; everything downstream keys on it.
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserProfile is the caller-owned display data.
type UserProfile struct {
	Name string `json:"name"`
}
