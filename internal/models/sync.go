package models

import "time"

// Sync item kinds.
const (
	SyncKindSale   = "sale"
	SyncKindStatus = "status"
)

// SyncItem is one queued upstream delivery. Items survive restarts and are
// removed only after upstream acceptance or after exceeding the retry ceiling.
type SyncItem struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"` // JSON body for the collector
	CreatedAt  time.Time `json:"created_at"`
	RetryCount int       `json:"retry_count"`
}

// SaleRecord is the payload for a completed monetary transaction.
type SaleRecord struct {
	MachineID string    `json:"machine_id"`
	Amount    int       `json:"amount"`
	Type      string    `json:"type"`
	MAC       string    `json:"mac"`
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatRecord is the payload for a periodic liveness report.
type HeartbeatRecord struct {
	MachineID string         `json:"machine_id"`
	Status    string         `json:"status"`
	Metrics   map[string]any `json:"metrics"`
	Timestamp time.Time      `json:"timestamp"`
}
