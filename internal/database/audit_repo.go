package database

import (
	"encoding/json"
	"time"

	"pisowifi-backend/internal/models"
)

// AuditRepo handles audit log database operations
type AuditRepo struct{}

// NewAuditRepo creates a new audit repository
func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

// Create creates a new audit log entry
func (r *AuditRepo) Create(entry *models.AuditLog) error {
	result, err := DB.Exec(`
		INSERT INTO audit_logs (timestamp, action, device_id, mac, ip_address, details)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Timestamp, entry.Action, entry.DeviceID, entry.MAC, entry.IPAddress, entry.Details)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// Log is a convenience method to create an audit entry with current timestamp
func (r *AuditRepo) Log(action, deviceID, mac, ipAddress string, details interface{}) error {
	var detailsJSON string
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			detailsJSON = "{}"
		} else {
			detailsJSON = string(b)
		}
	}

	return r.Create(&models.AuditLog{
		Timestamp: time.Now(),
		Action:    action,
		DeviceID:  deviceID,
		MAC:       mac,
		IPAddress: ipAddress,
		Details:   detailsJSON,
	})
}

// List retrieves audit logs with optional filters, newest first
func (r *AuditRepo) List(filter models.AuditFilter) ([]*models.AuditLog, int, error) {
	baseQuery := "FROM audit_logs WHERE 1=1"
	args := []interface{}{}

	if filter.Action != "" {
		baseQuery += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.DeviceID != "" {
		baseQuery += " AND device_id = ?"
		args = append(args, filter.DeviceID)
	}
	if !filter.StartTime.IsZero() {
		baseQuery += " AND timestamp >= ?"
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		baseQuery += " AND timestamp <= ?"
		args = append(args, filter.EndTime)
	}

	var total int
	if err := DB.QueryRow("SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT id, timestamp, action, COALESCE(device_id, ''), COALESCE(mac, ''), COALESCE(ip_address, ''), COALESCE(details, '') " +
		baseQuery + " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		entry := &models.AuditLog{}
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Action,
			&entry.DeviceID, &entry.MAC, &entry.IPAddress, &entry.Details); err != nil {
			return nil, 0, err
		}
		logs = append(logs, entry)
	}
	return logs, total, rows.Err()
}
