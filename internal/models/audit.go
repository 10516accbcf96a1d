package models

import "time"

// Audit actions recorded by the security guard and admin surface.
const (
	AuditMACChange      = "guard.mac_change"
	AuditIPChurn        = "guard.ip_churn_flagged"
	AuditRateLimited    = "guard.rate_limited"
	AuditDeviceMismatch = "guard.device_mismatch"
	AuditSessionStart   = "admin.session_start"
	AuditSessionRevoke  = "admin.session_revoke"
	AuditRateChange     = "admin.rate_change"
)

// AuditLog is a single auditable event. Administrators see the underlying
// reason here; end users only ever see a generic denial.
type AuditLog struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	DeviceID  string    `json:"device_id,omitempty"`
	MAC       string    `json:"mac,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// AuditFilter narrows audit log listing.
type AuditFilter struct {
	Action    string
	DeviceID  string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}
