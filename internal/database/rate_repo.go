package database

import (
	"database/sql"
	"errors"
	"time"

	"pisowifi-backend/internal/models"
)

var ErrRateNotFound = errors.New("rate not found")

// RateRepo handles rate table database operations
type RateRepo struct{}

// NewRateRepo creates a new rate repository
func NewRateRepo() *RateRepo {
	return &RateRepo{}
}

// GetByPesos retrieves the rate for an exact peso amount
func (r *RateRepo) GetByPesos(pesos int) (*models.Rate, error) {
	row := DB.QueryRow(`
		SELECT id, pesos, minutes, download_limit, upload_limit, created_at, updated_at
		FROM rates WHERE pesos = ?
	`, pesos)
	return scanRate(row)
}

// GetByID retrieves a rate by ID
func (r *RateRepo) GetByID(id int64) (*models.Rate, error) {
	row := DB.QueryRow(`
		SELECT id, pesos, minutes, download_limit, upload_limit, created_at, updated_at
		FROM rates WHERE id = ?
	`, id)
	return scanRate(row)
}

// List returns all rates ordered by peso amount
func (r *RateRepo) List() ([]*models.Rate, error) {
	rows, err := DB.Query(`
		SELECT id, pesos, minutes, download_limit, upload_limit, created_at, updated_at
		FROM rates ORDER BY pesos
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []*models.Rate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// Create inserts a new rate
func (r *RateRepo) Create(rate *models.Rate) error {
	now := time.Now()
	result, err := DB.Exec(`
		INSERT INTO rates (pesos, minutes, download_limit, upload_limit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rate.Pesos, rate.Minutes, rate.DownloadLimit, rate.UploadLimit, now, now)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	rate.ID = id
	rate.CreatedAt = now
	rate.UpdatedAt = now
	return nil
}

// Update modifies an existing rate. Past transactions are unaffected; the
// ledger snapshots converted minutes at apply time.
func (r *RateRepo) Update(rate *models.Rate) error {
	result, err := DB.Exec(`
		UPDATE rates SET pesos = ?, minutes = ?, download_limit = ?, upload_limit = ?, updated_at = ?
		WHERE id = ?
	`, rate.Pesos, rate.Minutes, rate.DownloadLimit, rate.UploadLimit, time.Now(), rate.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRateNotFound
	}
	return nil
}

// Delete removes a rate
func (r *RateRepo) Delete(id int64) error {
	result, err := DB.Exec("DELETE FROM rates WHERE id = ?", id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRateNotFound
	}
	return nil
}

func scanRate(row rowScanner) (*models.Rate, error) {
	rate := &models.Rate{}
	err := row.Scan(&rate.ID, &rate.Pesos, &rate.Minutes, &rate.DownloadLimit, &rate.UploadLimit, &rate.CreatedAt, &rate.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRateNotFound
	}
	if err != nil {
		return nil, err
	}
	return rate, nil
}
