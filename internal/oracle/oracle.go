// Package oracle provides collateral snapshots to the loan service.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/wakala/loanengine/internal/domain"
)

// Oracle returns the current snapshot for a collateral asset.
type Oracle interface {
	Snapshot(ctx context.Context, asset string) (domain.CollateralSnapshot, error)
}

// Source is the read side of the snapshot store.
type Source interface {
	Latest(ctx context.Context, asset string) (domain.CollateralSnapshot, error)
}

// Store serves the latest ingested snapshot. When MaxAge is positive, a
// snapshot older than MaxAge is rejected as a validation error.
type Store struct {
	src    Source
	maxAge time.Duration
	now    func() time.Time
}

func NewStore(src Source, maxAge time.Duration) *Store {
	return &Store{src: src, maxAge: maxAge, now: time.Now}
}

func (s *Store) Snapshot(ctx context.Context, asset string) (domain.CollateralSnapshot, error) {
	if asset == "" {
		return domain.CollateralSnapshot{}, domain.Invalid("collateral asset is required")
	}
	snap, err := s.src.Latest(ctx, asset)
	if err != nil {
		return domain.CollateralSnapshot{}, fmt.Errorf("oracle %s: %w", asset, err)
	}
	if s.maxAge > 0 {
		if age := s.now().Sub(snap.ObservedAt); age > s.maxAge {
			return domain.CollateralSnapshot{}, domain.Invalid("snapshot for %s is stale (%s old)", asset, age.Truncate(time.Second))
		}
	}
	return snap, nil
}

// Static is a fixed in-memory oracle.
type Static map[string]domain.CollateralSnapshot

func (o Static) Snapshot(_ context.Context, asset string) (domain.CollateralSnapshot, error) {
	snap, ok := o[asset]
	if !ok {
		return domain.CollateralSnapshot{}, fmt.Errorf("%w: no snapshot for %s", domain.ErrNotFound, asset)
	}
	return snap, nil
}
