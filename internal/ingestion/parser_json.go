package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wakala/loanengine/internal/domain"
)

// snapshotFile is the top-level JSON feed document.
type snapshotFile struct {
	Source    string          `json:"source"`
	Snapshots []snapshotEntry `json:"snapshots"`
}

type snapshotEntry struct {
	Asset       string          `json:"asset"`
	ObservedAt  string          `json:"observed_at"`
	MarketCap   decimal.Decimal `json:"market_cap"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	HolderCount int             `json:"holder_count"`
}

// ParseSnapshotJSON parses an oracle snapshot feed in JSON form. Amounts may be
// JSON numbers or strings. The feed's own source name is returned when set.
func ParseSnapshotJSON(data []byte) ([]domain.CollateralSnapshot, string, error) {
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, "", domain.Invalid("unmarshal: %v", err)
	}

	out := make([]domain.CollateralSnapshot, 0, len(file.Snapshots))
	for i, e := range file.Snapshots {
		observed, err := parseObservedAt(e.ObservedAt)
		if err != nil {
			return nil, "", domain.Invalid("snapshot %d observed_at: %v", i, err)
		}
		snap := domain.CollateralSnapshot{
			Asset:       e.Asset,
			MarketCap:   e.MarketCap,
			UnitPrice:   e.UnitPrice,
			TotalSupply: e.TotalSupply,
			HolderCount: e.HolderCount,
			ObservedAt:  observed,
		}
		if err := validateSnapshot(snap); err != nil {
			return nil, "", fmt.Errorf("snapshot %d: %w", i, err)
		}
		out = append(out, snap)
	}

	return out, file.Source, nil
}

func parseObservedAt(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Feeds without an offset are UTC.
		t, err = time.Parse("2006-01-02T15:04:05", s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}

func validateSnapshot(s domain.CollateralSnapshot) error {
	switch {
	case s.Asset == "":
		return domain.Invalid("asset is required")
	case s.MarketCap.IsNegative():
		return domain.Invalid("market_cap must not be negative")
	case s.UnitPrice.IsNegative():
		return domain.Invalid("unit_price must not be negative")
	case s.TotalSupply.IsNegative():
		return domain.Invalid("total_supply must not be negative")
	case s.HolderCount < 0:
		return domain.Invalid("holder_count must not be negative")
	}
	return nil
}
