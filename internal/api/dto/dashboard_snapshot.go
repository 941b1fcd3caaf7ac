package dto

import "time"

type CountryCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

type IPCount struct {
	IPAddress string `json:"ip_address"`
	Count     int64  `json:"count"`
}

// DashboardSnapshot aggregates request events over a window. BlacklistedCount
// and SuspiciousCount are current totals and ignore the window.
type DashboardSnapshot struct {
	WindowStart        time.Time      `json:"window_start"`
	WindowEnd          time.Time      `json:"window_end"`
	TotalRequests      int64          `json:"total_requests"`
	RequestsPerCountry []CountryCount `json:"requests_per_country"`
	TopIPs             []IPCount      `json:"top_ips"`
	BlacklistedCount   int64          `json:"blacklisted_count"`
	SuspiciousCount    int64          `json:"suspicious_count"`
}
