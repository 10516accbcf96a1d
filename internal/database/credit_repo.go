package database

import (
	"time"

	"github.com/google/uuid"

	"pisowifi-backend/internal/models"
)

// CreditRepo records closed pulse windows. Every row represents physical money
// that entered the machine, so rows are written before any downstream work.
type CreditRepo struct{}

// NewCreditRepo creates a new coin credit repository
func NewCreditRepo() *CreditRepo {
	return &CreditRepo{}
}

// Record persists a closed pulse window
func (r *CreditRepo) Record(line, pulses, amount int, claimedBy string) (*models.CoinCredit, error) {
	credit := &models.CoinCredit{
		ID:        uuid.New().String(),
		Line:      line,
		Pulses:    pulses,
		Amount:    amount,
		ClaimedBy: claimedBy,
		CreatedAt: time.Now(),
	}
	_, err := DB.Exec(`
		INSERT INTO coin_credits (id, line, pulses, amount, claimed_by, applied, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, credit.ID, credit.Line, credit.Pulses, credit.Amount, nullableString(credit.ClaimedBy), credit.CreatedAt)
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// MarkApplied flags a credit as converted into session time
func (r *CreditRepo) MarkApplied(id, mac string) error {
	_, err := DB.Exec("UPDATE coin_credits SET applied = 1, claimed_by = ? WHERE id = ?", mac, id)
	return err
}

// ListUnapplied returns credits that were never converted into time
func (r *CreditRepo) ListUnapplied() ([]*models.CoinCredit, error) {
	rows, err := DB.Query(`
		SELECT id, line, pulses, amount, COALESCE(claimed_by, ''), applied, created_at
		FROM coin_credits WHERE applied = 0 ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var credits []*models.CoinCredit
	for rows.Next() {
		credit := &models.CoinCredit{}
		if err := rows.Scan(&credit.ID, &credit.Line, &credit.Pulses, &credit.Amount,
			&credit.ClaimedBy, &credit.Applied, &credit.CreatedAt); err != nil {
			return nil, err
		}
		credits = append(credits, credit)
	}
	return credits, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
