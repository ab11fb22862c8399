package api

import (
	"log/slog"
	"math"
	"math/rand"
	"net/http"

	"github.com/opensource-retail/harrier/internal/domain"
)

// AnalyticsSummary is the aggregate payload behind the dashboard header.
// CapitalSaved sums refunds attributed to high-risk users (cut off at the
// configured score), leakage sums everyone else's refunds.
type AnalyticsSummary struct {
	CapitalSaved     float64 `json:"capitalSaved"`
	GrossVolume      float64 `json:"grossVolume"`
	ExpectedEarnings float64 `json:"expectedEarnings"`
	CatchRate        float64 `json:"catchRate"`
	TotalTxns        int64   `json:"totalTxns"`

	RevenueTimeseries RevenueSeries `json:"revenueTimeseries"`
	BlockTimeseries   BlockSeries   `json:"blockTimeseries"`
}

// RevenueSeries is a presentation-only weekly breakdown. The points are
// synthesized from the aggregate totals, not measured per day.
type RevenueSeries struct {
	Prevented        []int64 `json:"prevented"`
	ExpectedEarnings []int64 `json:"expectedEarnings"`
	Leakage          []int64 `json:"leakage"`
}

// BlockSeries is the synthetic weekly blocked-vs-manual breakdown.
type BlockSeries struct {
	Blocked []int64 `json:"blocked"`
	Manual  []int64 `json:"manual"`
}

// Demo floor values used when the store holds no refunds yet, so the
// dashboard renders a populated chart on first load.
const (
	demoPrevented = 120000
	demoEarnings  = 450000
	demoLeakage   = 18000
	demoBlocked   = 150
	demoManual    = 40
)

const seriesPoints = 7

// AnalyticsSummaryHandler handles GET /analytics-summary.
func (h *Handler) AnalyticsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.serveCached(w, r, domain.CacheKeySummary) {
		return
	}

	totalTxns, err := h.repo.CountTransactions(ctx)
	if err != nil {
		slog.Error("failed to count transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build analytics summary",
		})
		return
	}

	grossVolume, err := h.repo.SumTransactionAmounts(ctx)
	if err != nil {
		slog.Error("failed to sum transaction amounts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build analytics summary",
		})
		return
	}

	highRiskIDs, err := h.repo.HighRiskUserIDs(ctx, h.config.Analysis.HighRiskCutoff)
	if err != nil {
		slog.Error("failed to list high-risk users", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build analytics summary",
		})
		return
	}

	capitalSaved, blockedCount, err := h.repo.SumRefundsByUserSet(ctx, highRiskIDs, true)
	if err != nil {
		slog.Error("failed to sum flagged refunds", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build analytics summary",
		})
		return
	}

	leakage, manualCount, err := h.repo.SumRefundsByUserSet(ctx, highRiskIDs, false)
	if err != nil {
		slog.Error("failed to sum allowed refunds", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build analytics summary",
		})
		return
	}

	expectedEarnings := grossVolume - leakage

	var catchRate float64
	if capitalSaved+leakage > 0 {
		catchRate = math.Round(capitalSaved/(capitalSaved+leakage)*100*10) / 10
	}

	// Seeded so repeated reads of an unchanged store yield identical charts.
	rng := rand.New(rand.NewSource(h.config.Analysis.Seed))

	summary := &AnalyticsSummary{
		CapitalSaved:     capitalSaved,
		GrossVolume:      grossVolume,
		ExpectedEarnings: expectedEarnings,
		CatchRate:        catchRate,
		TotalTxns:        totalTxns,
		RevenueTimeseries: RevenueSeries{
			Prevented:        distributeOverWeek(rng, orDemo(capitalSaved, demoPrevented)),
			ExpectedEarnings: distributeOverWeek(rng, orDemo(expectedEarnings, demoEarnings)),
			Leakage:          distributeOverWeek(rng, orDemo(leakage, demoLeakage)),
		},
		BlockTimeseries: BlockSeries{
			Blocked: distributeOverWeek(rng, orDemo(float64(blockedCount), demoBlocked)),
			Manual:  distributeOverWeek(rng, orDemo(float64(manualCount), demoManual)),
		},
	}

	h.storeCached(ctx, domain.CacheKeySummary, summary)
	writeJSON(w, http.StatusOK, summary)
}

// distributeOverWeek splits a total across seven points with random
// weighting, keeping the overall sum close to the input.
func distributeOverWeek(rng *rand.Rand, total float64) []int64 {
	fractions := make([]float64, seriesPoints)
	var base float64
	for i := range fractions {
		fractions[i] = 0.5 + rng.Float64()
		base += fractions[i]
	}

	points := make([]int64, seriesPoints)
	for i, f := range fractions {
		points[i] = int64(f / base * total)
	}
	return points
}

func orDemo(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}
