package domain

import "time"

const (
	MaxUserAgentLength = 500
	MaxRefererLength   = 500
	maxPathLength      = 255
	maxMethodLength    = 10
)

// RequestEvent is one completed request. Rows are inserted once and never updated.
type RequestEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	IPAddress string `gorm:"size:64;not null;index"`

	// UserID is a weak reference: deleting the user nulls it.
	UserID *uint64 `gorm:"index"`
	User   *User   `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL"`

	Path        string `gorm:"size:255;not null;index"`
	Method      string `gorm:"size:10;not null"`
	UserAgent   string `gorm:"type:text;not null;default:''"`
	Referer     string `gorm:"type:text;not null;default:''"`
	StatusCode  int    `gorm:"not null"`
	IsSensitive bool   `gorm:"not null;default:false"`

	Country     *string `gorm:"size:64"`
	CountryCode *string `gorm:"size:8"`

	CreatedAt time.Time `gorm:"not null;index"`
}

func (RequestEvent) TableName() string {
	return "request_events"
}

// Normalize applies the storage bounds to the free-text fields.
func (e *RequestEvent) Normalize() {
	e.UserAgent = Truncate(e.UserAgent, MaxUserAgentLength)
	e.Referer = Truncate(e.Referer, MaxRefererLength)
	e.Path = Truncate(e.Path, maxPathLength)
	e.Method = Truncate(e.Method, maxMethodLength)
}

// Truncate cuts value to at most limit runes.
func Truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
