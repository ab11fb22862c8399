package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-retail/harrier/internal/domain"
)

// ErrNotCSV is returned for uploads without a .csv filename.
var ErrNotCSV = errors.New("invalid file format, expected a CSV upload")

// Service runs the full ingestion pipeline: normalize, materialize, replace.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus

	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// NewService creates an ingestion service. cache and bus may be nil.
func NewService(repo domain.Repository, cache domain.Cache, bus domain.EventBus) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		bus:   bus,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// UploadCSV ingests one export file, wiping and fully replacing all stored
// entities. Input-format errors (wrong extension, empty or unreadable file)
// are the only user-visible failures; field-level garbage resolves to
// defaults inside the normalizer.
func (s *Service) UploadCSV(ctx context.Context, filename string, r io.Reader) (*domain.IngestStats, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return nil, ErrNotCSV
	}

	rows, err := Normalize(r, s.Now())
	if err != nil {
		return nil, err
	}

	ds := Materialize(rows)

	if err := s.repo.ReplaceDataset(ctx, ds); err != nil {
		return nil, fmt.Errorf("failed to replace dataset: %w", err)
	}

	stats := &domain.IngestStats{
		Users:        len(ds.Users),
		Transactions: len(ds.Transactions),
		Items:        len(ds.Items),
		Returns:      len(ds.Returns),
	}

	s.invalidateCaches(ctx)
	s.publishCompleted(ctx, stats)

	slog.Info("ingest completed",
		"rows", len(rows),
		"users", stats.Users,
		"transactions", stats.Transactions,
		"items", stats.Items,
		"returns", stats.Returns,
	)

	return stats, nil
}

// invalidateCaches drops dashboard entries computed from the previous dataset.
func (s *Service) invalidateCaches(ctx context.Context) {
	if s.cache == nil {
		return
	}
	for _, key := range []string{domain.CacheKeySummary, domain.CacheKeyFraudUsers, domain.CacheKeyAlerts} {
		if err := s.cache.Delete(ctx, key); err != nil {
			slog.Warn("failed to invalidate cache", "key", key, "error", err)
		}
	}
}

func (s *Service) publishCompleted(ctx context.Context, stats *domain.IngestStats) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(stats)
	if err := s.bus.Publish(ctx, domain.TopicIngestCompleted, payload); err != nil {
		slog.Warn("failed to publish ingest event", "error", err)
	}
}
