// Package analysis orchestrates the scoring pipeline: per-user feature
// aggregation, cohort anomaly detection, composite scoring and alerting.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-retail/harrier/internal/alerting"
	"github.com/opensource-retail/harrier/internal/anomaly"
	"github.com/opensource-retail/harrier/internal/behavior"
	"github.com/opensource-retail/harrier/internal/domain"
	"github.com/opensource-retail/harrier/internal/scoring"
)

// ErrNoUsers is returned when analysis runs against an empty store.
var ErrNoUsers = errors.New("no users to analyze")

var tracer = otel.Tracer("harrier-analysis")

// Result summarizes one pipeline run.
type Result struct {
	UsersAnalyzed int   `json:"usersAnalyzed"`
	AlertsCreated int   `json:"alertsCreated"`
	HighRiskUsers int   `json:"highRiskUsers"`
	DurationMs    int64 `json:"durationMs"`
}

// Runner executes the full analysis pipeline over every user in the store.
// Feature aggregation fans out across a bounded worker pool; anomaly
// detection then runs over the complete cohort, because its scores are
// batch-relative.
type Runner struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	aggregator *behavior.Aggregator
	detector   anomaly.Detector
	scorer     *scoring.Scorer
	alerts     *alerting.Policy
	cfg        domain.AnalysisConfig

	Now func() time.Time
}

// NewRunner wires the pipeline stages together. Cache and bus are optional.
func NewRunner(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	cfg domain.AnalysisConfig,
) (*Runner, error) {
	scorer, err := scoring.NewScorer()
	if err != nil {
		return nil, fmt.Errorf("failed to build scorer: %w", err)
	}

	return &Runner{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		aggregator: behavior.NewAggregator(repo, cfg),
		detector:   anomaly.NewIsolationForest(cfg),
		scorer:     scorer,
		alerts:     alerting.NewPolicy(repo, bus, cfg.AlertThreshold),
		cfg:        cfg,
		Now:        time.Now,
	}, nil
}

// Run analyzes every user and persists one behavior score per user.
// Scores from a previous run are overwritten, so Run is idempotent over an
// unchanged dataset.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "analysis.run")
	defer span.End()

	userIDs, err := r.repo.AllUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if len(userIDs) == 0 {
		return nil, ErrNoUsers
	}

	now := r.Now().UTC()

	cohort := r.aggregate(ctx, userIDs, now)
	if len(cohort) == 0 {
		return nil, fmt.Errorf("feature aggregation produced no vectors for %d users", len(userIDs))
	}

	_, detectSpan := tracer.Start(ctx, "analysis.detect",
		trace.WithAttributes(attribute.Int("cohort.size", len(cohort))),
	)
	anomalyScores := r.detector.Score(cohort)
	detectSpan.End()

	result := &Result{UsersAnalyzed: len(cohort)}
	for _, fv := range cohort {
		score := r.scorer.Score(fv, anomalyScores[fv.UserID])

		if err := r.repo.UpsertBehaviorScore(ctx, score); err != nil {
			return nil, fmt.Errorf("failed to save score for user %d: %w", fv.UserID, err)
		}
		if score.OverallRiskScore >= r.cfg.HighRiskCutoff {
			result.HighRiskUsers++
		}

		alert, err := r.alerts.Evaluate(ctx, score)
		if err != nil {
			return nil, err
		}
		if alert != nil {
			result.AlertsCreated++
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()

	r.invalidateCaches(ctx)
	r.publishCompleted(ctx, result)

	slog.Info("analysis completed",
		"users_analyzed", result.UsersAnalyzed,
		"alerts_created", result.AlertsCreated,
		"high_risk_users", result.HighRiskUsers,
		"duration_ms", result.DurationMs,
	)

	return result, nil
}

// aggregate computes feature vectors in parallel with bounded concurrency.
// A user whose features cannot be computed is logged and skipped rather
// than failing the run.
func (r *Runner) aggregate(ctx context.Context, userIDs []int64, now time.Time) []*domain.FeatureVector {
	ctx, span := tracer.Start(ctx, "analysis.aggregate",
		trace.WithAttributes(attribute.Int("user.count", len(userIDs))),
	)
	defer span.End()

	maxWorkers := r.cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	vectors := make([]*domain.FeatureVector, len(userIDs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for i, userID := range userIDs {
		wg.Add(1)
		go func(idx int, id int64) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			fv, err := r.aggregator.Compute(ctx, id, now)
			if err != nil {
				slog.Error("feature aggregation failed",
					"user_id", id,
					"error", err,
				)
				return
			}
			vectors[idx] = fv
		}(i, userID)
	}

	wg.Wait()

	cohort := make([]*domain.FeatureVector, 0, len(vectors))
	for _, fv := range vectors {
		if fv != nil {
			cohort = append(cohort, fv)
		}
	}
	return cohort
}

func (r *Runner) invalidateCaches(ctx context.Context) {
	if r.cache == nil {
		return
	}
	for _, key := range []string{domain.CacheKeySummary, domain.CacheKeyFraudUsers, domain.CacheKeyAlerts} {
		if err := r.cache.Delete(ctx, key); err != nil {
			slog.Warn("failed to invalidate cache", "key", key, "error", err)
		}
	}
}

func (r *Runner) publishCompleted(ctx context.Context, result *Result) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(result)
	if err := r.bus.Publish(ctx, domain.TopicAnalysisCompleted, payload); err != nil {
		slog.Warn("failed to publish analysis event", "error", err)
	}
}
