package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RepaymentStatus string

const (
	RepaymentOnTime RepaymentStatus = "PAID"
	RepaymentLate   RepaymentStatus = "PAID_LATE"
)

// RepaymentRecord is an append-only ledger entry. Amount always equals the sum
// of the three components; Unapplied holds any tendered excess over the payoff
// amount and is not part of Amount.
type RepaymentRecord struct {
	ID                 string          `json:"id"`
	LoanID             string          `json:"loan_id"`
	PayerID            string          `json:"payer_id"`
	Amount             decimal.Decimal `json:"amount"`
	PrincipalComponent decimal.Decimal `json:"principal_component"`
	InterestComponent  decimal.Decimal `json:"interest_component"`
	LateFeeComponent   decimal.Decimal `json:"late_fee_component"`
	Unapplied          decimal.Decimal `json:"unapplied"`
	DaysLate           int             `json:"days_late"`
	DueDate            *time.Time      `json:"due_date,omitempty"`
	PaymentDate        time.Time       `json:"payment_date"`
	Status             RepaymentStatus `json:"status"`
	BalanceAfter       decimal.Decimal `json:"balance_after"`
}
