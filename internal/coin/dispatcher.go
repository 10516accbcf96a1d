package coin

import (
	"log"
	"time"

	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/models"
)

// Applier converts a peso amount into session time for a device.
type Applier interface {
	ApplyCredit(mac, ip, deviceID string, pesos int) (*models.Session, string, error)
}

// Dispatcher persists every closed pulse window and applies it to the device
// holding the slot claim. Money is durable before anything else happens: a
// window with no claimant, or one whose application fails, stays on disk
// unapplied instead of vanishing.
type Dispatcher struct {
	credits *database.CreditRepo
	slot    *Slot
	applier Applier
	maxAge  time.Duration // how far back Claim picks up unapplied credits
}

// NewDispatcher creates a dispatcher over the given slot and ledger
func NewDispatcher(slot *Slot, applier Applier, maxAge time.Duration) *Dispatcher {
	return &Dispatcher{
		credits: database.NewCreditRepo(),
		slot:    slot,
		applier: applier,
		maxAge:  maxAge,
	}
}

// Handle receives one closed window from the aggregator
func (d *Dispatcher) Handle(c Credit) {
	mac, ip, deviceID, claimed := d.slot.Current()

	claimedBy := ""
	if claimed {
		claimedBy = mac
	}
	credit, err := d.credits.Record(c.Line, c.Pulses, c.Amount, claimedBy)
	if err != nil {
		// Recording failed but money was inserted; apply anyway and shout.
		log.Printf("coin: FAILED to persist credit (line %d, %d pesos): %v", c.Line, c.Amount, err)
	}

	if !claimed {
		log.Printf("coin: %d pesos on line %d with no slot claim, held for next claim", c.Amount, c.Line)
		return
	}

	if _, _, err := d.applier.ApplyCredit(mac, ip, deviceID, c.Amount); err != nil {
		log.Printf("coin: credit application failed for %s (%d pesos): %v", mac, c.Amount, err)
		return
	}
	if credit != nil {
		if err := d.credits.MarkApplied(credit.ID, mac); err != nil {
			log.Printf("coin: failed to mark credit %s applied: %v", credit.ID, err)
		}
	}
}

// Claim binds the slot to a device and applies any recent unapplied credits
// to it (money inserted moments before the claim landed).
func (d *Dispatcher) Claim(mac, ip, deviceID string) (time.Time, error) {
	until := d.slot.Claim(mac, ip, deviceID)

	pending, err := d.credits.ListUnapplied()
	if err != nil {
		return until, err
	}
	cutoff := time.Now().Add(-d.maxAge)
	for _, credit := range pending {
		if credit.CreatedAt.Before(cutoff) {
			continue
		}
		if _, _, err := d.applier.ApplyCredit(mac, ip, deviceID, credit.Amount); err != nil {
			log.Printf("coin: pending credit %s application failed: %v", credit.ID, err)
			continue
		}
		if err := d.credits.MarkApplied(credit.ID, mac); err != nil {
			log.Printf("coin: failed to mark credit %s applied: %v", credit.ID, err)
		}
	}
	return until, nil
}
