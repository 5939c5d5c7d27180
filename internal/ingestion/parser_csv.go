package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wakala/loanengine/internal/domain"
)

var csvColumns = []string{"asset", "observed_at", "market_cap", "unit_price", "total_supply", "holder_count"}

// ParseSnapshotCSV parses an oracle snapshot feed in CSV form.
//
// Expected header (order may vary):
//
//	asset,observed_at,market_cap,unit_price,total_supply,holder_count
func ParseSnapshotCSV(data []byte) ([]domain.CollateralSnapshot, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range csvColumns {
		if _, ok := idx[col]; !ok {
			return nil, domain.Invalid("missing column %q", col)
		}
	}

	var out []domain.CollateralSnapshot
	lineNum := 1
	for {
		lineNum++
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		field := func(name string) string { return strings.TrimSpace(row[idx[name]]) }

		observed, err := parseObservedAt(field("observed_at"))
		if err != nil {
			return nil, domain.Invalid("line %d observed_at: %v", lineNum, err)
		}
		snap := domain.CollateralSnapshot{
			Asset:      field("asset"),
			ObservedAt: observed,
		}
		for _, f := range []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"market_cap", &snap.MarketCap},
			{"unit_price", &snap.UnitPrice},
			{"total_supply", &snap.TotalSupply},
		} {
			v, err := decimal.NewFromString(field(f.name))
			if err != nil {
				return nil, domain.Invalid("line %d %s: %v", lineNum, f.name, err)
			}
			*f.dst = v
		}
		if snap.HolderCount, err = strconv.Atoi(field("holder_count")); err != nil {
			return nil, domain.Invalid("line %d holder_count: %v", lineNum, err)
		}
		if err := validateSnapshot(snap); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		out = append(out, snap)
	}

	return out, nil
}
