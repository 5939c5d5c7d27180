// Package custody turns lifecycle transitions into instructions for the
// escrow service. It never moves funds.
package custody

import (
	"time"

	"github.com/wakala/loanengine/internal/domain"
)

// IntentsFor returns the custody intents implied by moving prev to next.
// A payoff releases the frozen collateral to the borrower; a default moves
// it to the treasury. Any other transition emits nothing.
func IntentsFor(prev, next domain.Loan, treasury string, at time.Time) []domain.CustodyIntent {
	if prev.Status == next.Status {
		return nil
	}

	switch next.Status {
	case domain.StatusPaid:
		return []domain.CustodyIntent{{
			LoanID:    next.ID,
			Kind:      domain.IntentReleaseCollateral,
			Asset:     next.CollateralAsset,
			Amount:    next.CollateralAmount,
			ToAddress: next.BorrowerWallet,
			CreatedAt: at,
		}}
	case domain.StatusDefaulted:
		return []domain.CustodyIntent{{
			LoanID:    next.ID,
			Kind:      domain.IntentSeizeCollateral,
			Asset:     next.CollateralAsset,
			Amount:    next.CollateralAmount,
			ToAddress: treasury,
			CreatedAt: at,
		}}
	}
	return nil
}
