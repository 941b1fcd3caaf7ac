package dto

import "time"

// BlacklistEntryRequest is the operator upsert body. Active defaults to true
// when omitted.
type BlacklistEntryRequest struct {
	IPAddress string     `json:"ip_address"`
	Reason    string     `json:"reason"`
	Active    *bool      `json:"active"`
	ExpiresAt *time.Time `json:"expires_at"`
}
