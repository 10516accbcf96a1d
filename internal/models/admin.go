package models

import "time"

// Admin is a local dashboard account. The machine authenticates admins fully
// offline; there is no external identity provider.
type Admin struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// AdminSession is an authenticated dashboard session.
type AdminSession struct {
	ID        int64     `json:"id"`
	AdminID   int64     `json:"admin_id"`
	TokenHash string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address"`
}
