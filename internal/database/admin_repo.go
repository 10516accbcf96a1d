package database

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"pisowifi-backend/internal/models"
)

var (
	ErrAdminNotFound        = errors.New("admin not found")
	ErrAdminSessionNotFound = errors.New("admin session not found")
	ErrAdminSessionExpired  = errors.New("admin session expired")
)

// AdminRepo handles local admin accounts and their dashboard sessions
type AdminRepo struct{}

// NewAdminRepo creates a new admin repository
func NewAdminRepo() *AdminRepo {
	return &AdminRepo{}
}

// Count returns the number of admin accounts
func (r *AdminRepo) Count() (int, error) {
	var count int
	err := DB.QueryRow("SELECT COUNT(*) FROM admins").Scan(&count)
	return count, err
}

// Create inserts a new admin account
func (r *AdminRepo) Create(admin *models.Admin) error {
	result, err := DB.Exec(`
		INSERT INTO admins (username, password_hash, created_at) VALUES (?, ?, ?)
	`, admin.Username, admin.PasswordHash, time.Now())
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	admin.ID = id
	return nil
}

// GetByUsername retrieves an admin by username
func (r *AdminRepo) GetByUsername(username string) (*models.Admin, error) {
	admin := &models.Admin{}
	var lastLogin sql.NullTime
	err := DB.QueryRow(`
		SELECT id, username, password_hash, created_at, last_login FROM admins WHERE username = ?
	`, username).Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		admin.LastLogin = &lastLogin.Time
	}
	return admin, nil
}

// GetByID retrieves an admin by ID
func (r *AdminRepo) GetByID(id int64) (*models.Admin, error) {
	admin := &models.Admin{}
	var lastLogin sql.NullTime
	err := DB.QueryRow(`
		SELECT id, username, password_hash, created_at, last_login FROM admins WHERE id = ?
	`, id).Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		admin.LastLogin = &lastLogin.Time
	}
	return admin, nil
}

// UpdateLastLogin records a successful login
func (r *AdminRepo) UpdateLastLogin(id int64) error {
	_, err := DB.Exec("UPDATE admins SET last_login = ? WHERE id = ?", time.Now(), id)
	return err
}

// CreateSession creates a dashboard session and returns the plain token
func (r *AdminRepo) CreateSession(adminID int64, ipAddress string, duration time.Duration) (string, *models.AdminSession, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", nil, err
	}
	token := hex.EncodeToString(tokenBytes)

	session := &models.AdminSession{
		AdminID:   adminID,
		TokenHash: hashToken(token),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
		IPAddress: ipAddress,
	}

	result, err := DB.Exec(`
		INSERT INTO admin_sessions (admin_id, token_hash, created_at, expires_at, ip_address)
		VALUES (?, ?, ?, ?, ?)
	`, session.AdminID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.IPAddress)
	if err != nil {
		return "", nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return "", nil, err
	}
	session.ID = id

	return token, session, nil
}

// GetSessionByToken retrieves an admin session by its plain token
func (r *AdminRepo) GetSessionByToken(token string) (*models.AdminSession, error) {
	session := &models.AdminSession{}
	err := DB.QueryRow(`
		SELECT id, admin_id, token_hash, created_at, expires_at, COALESCE(ip_address, '')
		FROM admin_sessions WHERE token_hash = ?
	`, hashToken(token)).Scan(
		&session.ID, &session.AdminID, &session.TokenHash,
		&session.CreatedAt, &session.ExpiresAt, &session.IPAddress,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAdminSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	// Check if expired
	if time.Now().After(session.ExpiresAt) {
		r.DeleteSession(session.ID)
		return nil, ErrAdminSessionExpired
	}

	return session, nil
}

// DeleteSession deletes a session by ID
func (r *AdminRepo) DeleteSession(id int64) error {
	_, err := DB.Exec("DELETE FROM admin_sessions WHERE id = ?", id)
	return err
}

// DeleteSessionByToken deletes a session by its plain token
func (r *AdminRepo) DeleteSessionByToken(token string) error {
	_, err := DB.Exec("DELETE FROM admin_sessions WHERE token_hash = ?", hashToken(token))
	return err
}
