package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"pisowifi-backend/internal/models"
)

var ErrSyncItemNotFound = errors.New("sync item not found")

// SyncRepo handles the durable upstream delivery queue
type SyncRepo struct{}

// NewSyncRepo creates a new sync queue repository
func NewSyncRepo() *SyncRepo {
	return &SyncRepo{}
}

// Enqueue persists a new queue item and returns it
func (r *SyncRepo) Enqueue(kind, payload string) (*models.SyncItem, error) {
	item := &models.SyncItem{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	_, err := DB.Exec(`
		INSERT INTO sync_items (id, kind, payload, created_at, retry_count)
		VALUES (?, ?, ?, ?, 0)
	`, item.ID, item.Kind, item.Payload, item.CreatedAt)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListPending returns queued items in FIFO order, oldest first
func (r *SyncRepo) ListPending(limit int) ([]*models.SyncItem, error) {
	rows, err := DB.Query(`
		SELECT id, kind, payload, created_at, retry_count
		FROM sync_items ORDER BY created_at, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.SyncItem
	for rows.Next() {
		item := &models.SyncItem{}
		if err := rows.Scan(&item.ID, &item.Kind, &item.Payload, &item.CreatedAt, &item.RetryCount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get retrieves a single item by id
func (r *SyncRepo) Get(id string) (*models.SyncItem, error) {
	item := &models.SyncItem{}
	err := DB.QueryRow(`
		SELECT id, kind, payload, created_at, retry_count FROM sync_items WHERE id = ?
	`, id).Scan(&item.ID, &item.Kind, &item.Payload, &item.CreatedAt, &item.RetryCount)
	if err == sql.ErrNoRows {
		return nil, ErrSyncItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// IncrementRetry bumps the retry counter after a failed delivery attempt
func (r *SyncRepo) IncrementRetry(id string) error {
	_, err := DB.Exec("UPDATE sync_items SET retry_count = retry_count + 1 WHERE id = ?", id)
	return err
}

// Delete removes an item after upstream acceptance or retry exhaustion
func (r *SyncRepo) Delete(id string) error {
	_, err := DB.Exec("DELETE FROM sync_items WHERE id = ?", id)
	return err
}

// Count returns the queue depth
func (r *SyncRepo) Count() (int, error) {
	var count int
	err := DB.QueryRow("SELECT COUNT(*) FROM sync_items").Scan(&count)
	return count, err
}
