package database

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"pisowifi-backend/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepo handles device session database operations
type SessionRepo struct{}

// NewSessionRepo creates a new session repository
func NewSessionRepo() *SessionRepo {
	return &SessionRepo{}
}

const sessionColumns = `id, mac, ip, device_id, token_hash, remaining_seconds, total_paid, state, connected_at, last_seen, expired_at`

// Create inserts a new active session and returns the plain token issued to
// the device. Only the SHA-256 hash is stored.
func (r *SessionRepo) Create(mac, ip, deviceID string, seconds, paid int64) (string, *models.Session, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", nil, err
	}
	token := hex.EncodeToString(tokenBytes)
	now := time.Now()

	session := &models.Session{
		MAC:              mac,
		IP:               ip,
		DeviceID:         deviceID,
		TokenHash:        hashToken(token),
		RemainingSeconds: seconds,
		TotalPaid:        paid,
		State:            models.StateActive,
		ConnectedAt:      now,
		LastSeen:         now,
	}

	result, err := DB.Exec(`
		INSERT INTO sessions (mac, ip, device_id, token_hash, remaining_seconds, total_paid, state, connected_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, session.MAC, session.IP, session.DeviceID, session.TokenHash,
		session.RemainingSeconds, session.TotalPaid, session.State, session.ConnectedAt, session.LastSeen)
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

// GetActiveByMAC retrieves the active session for a MAC address
func (r *SessionRepo) GetActiveByMAC(mac string) (*models.Session, error) {
	row := DB.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE mac = ? AND state = 'active'`, mac)
	return scanSession(row)
}

// GetByToken retrieves a session by its plain token
func (r *SessionRepo) GetByToken(token string) (*models.Session, error) {
	row := DB.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`, hashToken(token))
	return scanSession(row)
}

// GetByID retrieves a session by ID
func (r *SessionRepo) GetByID(id int64) (*models.Session, error) {
	row := DB.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListActive returns all active sessions
func (r *SessionRepo) ListActive() ([]*models.Session, error) {
	rows, err := DB.Query(`SELECT ` + sessionColumns + ` FROM sessions WHERE state = 'active' ORDER BY connected_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// AddCredit extends an active session's remaining time and paid total
func (r *SessionRepo) AddCredit(id, seconds, pesos int64, ip string) error {
	result, err := DB.Exec(`
		UPDATE sessions
		SET remaining_seconds = remaining_seconds + ?, total_paid = total_paid + ?, ip = ?, last_seen = ?
		WHERE id = ? AND state = 'active'
	`, seconds, pesos, ip, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateCountdown stores the result of one sweep tick
func (r *SessionRepo) UpdateCountdown(id, remaining int64) error {
	result, err := DB.Exec(`
		UPDATE sessions SET remaining_seconds = ?, last_seen = ? WHERE id = ? AND state = 'active'
	`, remaining, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateEndpoint records the most recently seen MAC/IP pair for a session
func (r *SessionRepo) UpdateEndpoint(id int64, mac, ip string) error {
	result, err := DB.Exec(`
		UPDATE sessions SET mac = ?, ip = ?, last_seen = ? WHERE id = ? AND state = 'active'
	`, mac, ip, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// MarkTerminal transitions an active session to expired or revoked. It is a
// no-op returning ErrSessionNotFound when the session is already terminal,
// which is what makes sweep handoff idempotent at the storage layer.
func (r *SessionRepo) MarkTerminal(id int64, state models.SessionState) error {
	now := time.Now()
	result, err := DB.Exec(`
		UPDATE sessions SET state = ?, remaining_seconds = 0, expired_at = ? WHERE id = ? AND state = 'active'
	`, state, now, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// PurgeTerminalBefore removes expired/revoked rows older than the cutoff
func (r *SessionRepo) PurgeTerminalBefore(cutoff time.Time) (int64, error) {
	result, err := DB.Exec(`
		DELETE FROM sessions WHERE state != 'active' AND last_seen < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var expiredAt sql.NullTime
	err := row.Scan(
		&session.ID, &session.MAC, &session.IP, &session.DeviceID, &session.TokenHash,
		&session.RemainingSeconds, &session.TotalPaid, &session.State,
		&session.ConnectedAt, &session.LastSeen, &expiredAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiredAt.Valid {
		session.ExpiredAt = &expiredAt.Time
	}
	return session, nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// hashToken creates a SHA-256 hash of the token
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
