package models

import "time"

// Rate maps a peso amount to granted minutes and optional bandwidth caps.
// Rates are owned by the admin; the ledger reads them and snapshots the
// converted minutes at apply time, so editing a rate never changes a past
// transaction.
type Rate struct {
	ID            int64     `json:"id"`
	Pesos         int       `json:"pesos"`
	Minutes       int       `json:"minutes"`
	DownloadLimit int       `json:"download_limit"` // kbps, 0 = unlimited
	UploadLimit   int       `json:"upload_limit"`   // kbps, 0 = unlimited
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
