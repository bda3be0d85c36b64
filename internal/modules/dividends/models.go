// Package dividends applies ex-dividend anchor adjustments and manages the
// receivable lifecycle from declaration to payment.
package dividends

import (
	"time"

	"github.com/avelios/anchor/internal/domain"
)

// ReceivableStatus is the lifecycle state of declared dividend cash.
type ReceivableStatus string

const (
	ReceivablePending ReceivableStatus = "PENDING"
	ReceivablePaid    ReceivableStatus = "PAID"
)

// Receivable tracks declared-but-uncollected dividend cash for a position.
// net_amount = gross_amount - withholding_tax always holds.
type Receivable struct {
	ID               int64            `json:"id"`
	PositionID       int64            `json:"position_id"`
	ExDate           string           `json:"ex_date"`
	PayDate          string           `json:"pay_date,omitempty"`
	DividendPerShare float64          `json:"dividend_per_share"`
	GrossAmount      float64          `json:"gross_amount"`
	WithholdingTax   float64          `json:"withholding_tax"`
	NetAmount        float64          `json:"net_amount"`
	Status           ReceivableStatus `json:"status"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Store is the receivable persistence contract. Both mutating operations are
// atomic across the receivable and its position.
type Store interface {
	Get(id int64) (*Receivable, error)
	GetByExDate(positionID int64, exDate string) (*Receivable, error)
	ListPending() ([]Receivable, error)
	ListByPosition(positionID int64) ([]Receivable, error)
	// ApplyExDividend inserts the receivable and persists the adjusted
	// position (new anchor, increased receivable balance) in one step.
	ApplyExDividend(r *Receivable, position *domain.Position) error
	// ApplyPayment marks the receivable PAID and persists the credited
	// position in one step.
	ApplyPayment(r *Receivable, position *domain.Position) error
}
