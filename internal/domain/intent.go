package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentKind string

const (
	IntentReleaseCollateral IntentKind = "RELEASE_COLLATERAL"
	IntentSeizeCollateral   IntentKind = "SEIZE_COLLATERAL"
)

// CustodyIntent is an instruction for the custody service. The engine never
// moves funds itself.
type CustodyIntent struct {
	ID        string          `json:"id"`
	LoanID    string          `json:"loan_id"`
	Kind      IntentKind      `json:"kind"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	ToAddress string          `json:"to_address"`
	CreatedAt time.Time       `json:"created_at"`
}
