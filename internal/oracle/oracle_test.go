package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wakala/loanengine/internal/domain"
)

var observed = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func snaps() Static {
	return Static{"0xcoin": {Asset: "0xcoin", MarketCap: decimal.NewFromInt(200000), ObservedAt: observed}}
}

type staticSource struct{ Static }

func (s staticSource) Latest(ctx context.Context, asset string) (domain.CollateralSnapshot, error) {
	return s.Snapshot(ctx, asset)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore(staticSource{snaps()}, time.Hour)
	store.now = func() time.Time { return observed.Add(30 * time.Minute) }

	snap, err := store.Snapshot(ctx, "0xcoin")
	require.NoError(t, err)
	assert.True(t, snap.MarketCap.Equal(decimal.NewFromInt(200000)))

	_, err = store.Snapshot(ctx, "0xother")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.Snapshot(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	store.now = func() time.Time { return observed.Add(2 * time.Hour) }
	_, err = store.Snapshot(ctx, "0xcoin")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStoreWithoutMaxAge(t *testing.T) {
	store := NewStore(staticSource{snaps()}, 0)
	store.now = func() time.Time { return observed.AddDate(1, 0, 0) }

	_, err := store.Snapshot(context.Background(), "0xcoin")
	assert.NoError(t, err)
}
