package models

import "time"

// SessionState is the lifecycle state of a device session.
type SessionState string

const (
	StateActive  SessionState = "active"
	StateExpired SessionState = "expired"
	StateRevoked SessionState = "revoked"
)

// Session represents one device admitted to the network. The ledger row is the
// single source of truth for remaining time; the packet filter is reconciled
// against it, never the other way around.
type Session struct {
	ID               int64        `json:"id"`
	MAC              string       `json:"mac"`
	IP               string       `json:"ip"`
	DeviceID         string       `json:"device_id"`
	TokenHash        string       `json:"-"` // Never expose in JSON
	RemainingSeconds int64        `json:"remaining_seconds"`
	TotalPaid        int64        `json:"total_paid"`
	State            SessionState `json:"state"`
	ConnectedAt      time.Time    `json:"connected_at"`
	LastSeen         time.Time    `json:"last_seen"`
	ExpiredAt        *time.Time   `json:"expired_at,omitempty"`
}

// Active reports whether the session currently permits traffic.
func (s *Session) Active() bool {
	return s.State == StateActive && s.RemainingSeconds > 0
}

// StatusResponse is the portal-facing view of a session.
type StatusResponse struct {
	Connected        bool   `json:"connected"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	TotalPaid        int64  `json:"total_paid"`
	MAC              string `json:"mac,omitempty"`
}
