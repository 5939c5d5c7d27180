package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	StatusPendingCollateral LoanStatus = "PENDING_COLLATERAL"
	StatusActive            LoanStatus = "ACTIVE"
	StatusPaid              LoanStatus = "PAID"
	StatusDefaulted         LoanStatus = "DEFAULTED"
)

// Terminal reports whether no further transition is possible from s.
func (s LoanStatus) Terminal() bool {
	return s == StatusPaid || s == StatusDefaulted
}

// Loan is the mutable aggregate owned by the lifecycle. Engine functions never
// modify a Loan in place; they return a new snapshot with Version incremented.
type Loan struct {
	ID              string `json:"id"`
	BorrowerID      string `json:"borrower_id"`
	BorrowerWallet  string `json:"borrower_wallet,omitempty"`
	CollateralAsset string `json:"collateral_asset"`

	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	InterestRate    float64         `json:"interest_rate"` // annual, percent
	DurationMonths  int             `json:"duration_months"`
	MonthlyPayment  decimal.Decimal `json:"monthly_payment"`
	TotalAmount     decimal.Decimal `json:"total_amount"`

	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	CollateralRatio  decimal.Decimal `json:"collateral_ratio"`
	LoanToValue      decimal.Decimal `json:"loan_to_value"`
	CollateralTxRef  string          `json:"collateral_tx_ref,omitempty"`

	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	InterestAccrued  decimal.Decimal `json:"interest_accrued"`
	LateFees         decimal.Decimal `json:"late_fees"`

	Status          LoanStatus `json:"status"`
	StartDate       time.Time  `json:"start_date"`
	NextPaymentDate *time.Time `json:"next_payment_date,omitempty"`
	EndDate         time.Time  `json:"end_date"`

	// Snapshot of the collateral at origination, by value.
	Collateral CollateralSnapshot `json:"collateral"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with l.
func (l Loan) Clone() Loan {
	out := l
	if l.NextPaymentDate != nil {
		next := *l.NextPaymentDate
		out.NextPaymentDate = &next
	}
	return out
}
