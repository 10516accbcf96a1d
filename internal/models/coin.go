package models

import "time"

// CoinCredit is the durable record of one closed pulse window. Physical money
// was received when this row is written; it must never be silently dropped,
// even if no device claimed the slot at the time.
type CoinCredit struct {
	ID        string    `json:"id"`
	Line      int       `json:"line"`
	Pulses    int       `json:"pulses"`
	Amount    int       `json:"amount"` // pesos
	ClaimedBy string    `json:"claimed_by,omitempty"`
	Applied   bool      `json:"applied"`
	CreatedAt time.Time `json:"created_at"`
}
