package domain

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the account table owned by the application. The security core only
// references it from RequestEvent.
type User struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Email     string    `gorm:"uniqueIndex;not null;size:255"`
	Role      string    `gorm:"not null;default:'user';size:16"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
