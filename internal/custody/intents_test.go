package custody

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/loanengine/internal/domain"
)

func TestIntentsFor(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	active := domain.Loan{
		ID:               "loan-9",
		BorrowerWallet:   "0xborrower",
		CollateralAsset:  "0xcoin",
		CollateralAmount: decimal.NewFromInt(4000),
		Status:           domain.StatusActive,
	}

	t.Run("payoff releases collateral", func(t *testing.T) {
		paid := active
		paid.Status = domain.StatusPaid
		got := IntentsFor(active, paid, "0xtreasury", at)
		require.Len(t, got, 1)
		assert.Equal(t, domain.IntentReleaseCollateral, got[0].Kind)
		assert.Equal(t, "0xborrower", got[0].ToAddress)
		assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(4000)))
		assert.Equal(t, "loan-9", got[0].LoanID)
	})

	t.Run("default seizes collateral", func(t *testing.T) {
		defaulted := active
		defaulted.Status = domain.StatusDefaulted
		got := IntentsFor(active, defaulted, "0xtreasury", at)
		require.Len(t, got, 1)
		assert.Equal(t, domain.IntentSeizeCollateral, got[0].Kind)
		assert.Equal(t, "0xtreasury", got[0].ToAddress)
	})

	t.Run("no status change", func(t *testing.T) {
		assert.Empty(t, IntentsFor(active, active, "0xtreasury", at))
	})

	t.Run("activation", func(t *testing.T) {
		pending := active
		pending.Status = domain.StatusPendingCollateral
		assert.Empty(t, IntentsFor(pending, active, "0xtreasury", at))
	})
}
