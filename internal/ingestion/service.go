package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/logging"
	"github.com/wakala/loanengine/internal/metrics"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// IngestResult is returned from a successful ingestion.
type IngestResult struct {
	FeedID            string `json:"feed_id"`
	AlreadyIngested   bool   `json:"already_ingested"`
	SnapshotsIngested int    `json:"snapshots_ingested"`
	DuplicatesSkipped int    `json:"duplicates_skipped"`
}

// SnapshotStore persists oracle feeds.
type SnapshotStore interface {
	FeedExistsByHash(ctx context.Context, hash string) (bool, error)
	InsertFeed(ctx context.Context, feed domain.SnapshotFeed, snaps []domain.CollateralSnapshot) (int, error)
}

// Service ingests collateral snapshot feeds from the oracle.
type Service struct {
	store   SnapshotStore
	log     *slog.Logger
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

func NewService(store SnapshotStore, log *slog.Logger, m *metrics.EngineMetrics) *Service {
	return &Service{
		store:   store,
		log:     logging.Component(log, "ingestion"),
		metrics: m,
		now:     time.Now,
	}
}

// IngestFeed parses a snapshot feed and stores its rows. A file whose sha256
// was already ingested is acknowledged without being parsed again.
//
// format must be one of: csv, json
func (s *Service) IngestFeed(ctx context.Context, data []byte, source, format string) (*IngestResult, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	exists, err := s.store.FeedExistsByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if exists {
		s.log.Info("feed already ingested", slog.String("hash", hash))
		return &IngestResult{AlreadyIngested: true}, nil
	}

	var snaps []domain.CollateralSnapshot
	switch format {
	case FormatCSV:
		snaps, err = ParseSnapshotCSV(data)
	case FormatJSON:
		var declared string
		snaps, declared, err = ParseSnapshotJSON(data)
		if source == "" {
			source = declared
		}
	default:
		return nil, domain.Invalid("unsupported format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}
	if source == "" {
		source = "oracle"
	}

	feed := domain.SnapshotFeed{
		ID:            "FEED-" + uuid.NewString(),
		Source:        source,
		Format:        format,
		FileHash:      hash,
		SnapshotCount: len(snaps),
		IngestedAt:    s.now().UTC(),
	}
	inserted, err := s.store.InsertFeed(ctx, feed, snaps)
	if err != nil {
		return nil, fmt.Errorf("insert feed: %w", err)
	}
	s.metrics.ObserveSnapshots(format, inserted)

	s.log.Info("ingested snapshot feed",
		slog.String("feed_id", feed.ID),
		slog.String("source", source),
		slog.Int("snapshots", len(snaps)),
		slog.Int("new", inserted),
	)

	return &IngestResult{
		FeedID:            feed.ID,
		SnapshotsIngested: inserted,
		DuplicatesSkipped: len(snaps) - inserted,
	}, nil
}
