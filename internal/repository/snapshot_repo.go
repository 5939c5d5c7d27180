package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wakala/loanengine/internal/domain"
)

type SnapshotRepo struct {
	db *sql.DB
}

func NewSnapshotRepo(db *sql.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// FeedExistsByHash checks whether a feed with the given file hash has already
// been ingested.
func (r *SnapshotRepo) FeedExistsByHash(ctx context.Context, hash string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM snapshot_feeds WHERE file_hash = ?", hash,
	).Scan(&count)
	return count > 0, err
}

// InsertFeed stores the feed header and its snapshots in one transaction.
// Snapshots already known for the same asset and observation time are skipped;
// the number actually inserted is returned.
func (r *SnapshotRepo) InsertFeed(ctx context.Context, feed domain.SnapshotFeed, snaps []domain.CollateralSnapshot) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_feeds (id, source, format, file_hash, snapshot_count, ingested_at)
		VALUES (?,?,?,?,?,?)`,
		feed.ID, feed.Source, feed.Format, feed.FileHash, feed.SnapshotCount, formatTime(feed.IngestedAt),
	); err != nil {
		return 0, fmt.Errorf("insert feed: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO collateral_snapshots
		(asset, observed_at, feed_id, market_cap, unit_price, total_supply, holder_count)
		VALUES (?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i, s := range snaps {
		res, err := stmt.ExecContext(ctx,
			s.Asset, formatTime(s.ObservedAt), feed.ID, s.MarketCap, s.UnitPrice, s.TotalSupply, s.HolderCount,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert snapshot %d: %w", i, err)
		}
		ra, _ := res.RowsAffected()
		inserted += int(ra)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// Latest returns the most recent snapshot for an asset.
func (r *SnapshotRepo) Latest(ctx context.Context, asset string) (domain.CollateralSnapshot, error) {
	var s domain.CollateralSnapshot
	var observed string
	err := r.db.QueryRowContext(ctx,
		`SELECT asset, observed_at, market_cap, unit_price, total_supply, holder_count
		FROM collateral_snapshots WHERE asset = ? ORDER BY observed_at DESC LIMIT 1`,
		asset,
	).Scan(&s.Asset, &observed, &s.MarketCap, &s.UnitPrice, &s.TotalSupply, &s.HolderCount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CollateralSnapshot{}, fmt.Errorf("%w: no snapshot for %s", domain.ErrNotFound, asset)
	}
	if err != nil {
		return domain.CollateralSnapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	if s.ObservedAt, err = parseTime(observed); err != nil {
		return domain.CollateralSnapshot{}, err
	}
	return s, nil
}

func (r *SnapshotRepo) ListFeeds(ctx context.Context) ([]domain.SnapshotFeed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source, format, file_hash, snapshot_count, ingested_at
		FROM snapshot_feeds ORDER BY ingested_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.SnapshotFeed
	for rows.Next() {
		var f domain.SnapshotFeed
		var ingested string
		if err := rows.Scan(&f.ID, &f.Source, &f.Format, &f.FileHash, &f.SnapshotCount, &ingested); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if f.IngestedAt, err = parseTime(ingested); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
