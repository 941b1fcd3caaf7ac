package domain

import "time"

// BlacklistedIP blocks every request from IPAddress while Active and not expired.
type BlacklistedIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	// IPAddress holds the address in the same form the activity log stores it
	// (anonymized when anonymization is enabled).
	IPAddress string `gorm:"size:64;uniqueIndex;not null" json:"ip_address"`

	Reason string `gorm:"type:text;not null;default:''" json:"reason"`
	Active bool   `gorm:"not null;index" json:"active"`

	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (BlacklistedIP) TableName() string {
	return "blacklisted_ips"
}

// Expired reports whether the entry carries an expiry that lies before now.
func (b BlacklistedIP) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}
