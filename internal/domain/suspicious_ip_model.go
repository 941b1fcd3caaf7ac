package domain

import "time"

// SuspiciousIP is written by the analyzer only. RequestCount never decreases.
type SuspiciousIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	IPAddress string `gorm:"size:64;uniqueIndex;not null" json:"ip_address"`

	FirstDetectedAt time.Time `gorm:"not null" json:"first_detected_at"`
	LastDetectedAt  time.Time `gorm:"not null;index" json:"last_detected_at"`
	RequestCount    int64     `gorm:"not null;default:0" json:"request_count"`
	Notes           string    `gorm:"type:text;not null;default:''" json:"notes"`
}

func (SuspiciousIP) TableName() string {
	return "suspicious_ips"
}
