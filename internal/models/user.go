package models

import "time"

type User struct {
	ID           int32
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}
