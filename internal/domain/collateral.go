package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollateralSnapshot is a point-in-time oracle read for a collateral asset.
type CollateralSnapshot struct {
	Asset       string          `json:"asset"`
	MarketCap   decimal.Decimal `json:"market_cap"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	HolderCount int             `json:"holder_count"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// SnapshotFeed records one ingested oracle feed file.
type SnapshotFeed struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Format        string    `json:"format"`
	FileHash      string    `json:"file_hash"`
	SnapshotCount int       `json:"snapshot_count"`
	IngestedAt    time.Time `json:"ingested_at"`
}

// EscrowConfirmation is sent by the custody collaborator once collateral has
// been deposited for a loan.
type EscrowConfirmation struct {
	LoanID          string          `json:"loan_id"`
	DepositedAmount decimal.Decimal `json:"deposited_amount"`
	TxReference     string          `json:"tx_reference"`
}
