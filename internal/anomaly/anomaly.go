// Package anomaly scores a cohort of feature vectors for statistical
// outlierness. Scores are batch-relative: re-running against a different
// cohort changes every score even when a user's own features are unchanged.
// That is by construction, not a bug.
package anomaly

import (
	"github.com/opensource-retail/harrier/internal/domain"
)

// Detector scores one analysis cohort. Implementations must be
// deterministic for a fixed configuration and input, so repeated runs over
// an unchanged cohort reproduce identical scores.
type Detector interface {
	// Score returns a per-user anomaly score in [0, 1], where 1 marks the
	// most anomalous member of this batch. Degenerate cohorts (too small,
	// or zero variance on the selected features) score 0.0 for everyone.
	Score(cohort []*domain.FeatureVector) map[int64]float64
}

// featureMatrix extracts the outlier-model inputs from the cohort:
// return rate, fast return count and high-value return count.
func featureMatrix(cohort []*domain.FeatureVector) [][]float64 {
	X := make([][]float64, len(cohort))
	for i, fv := range cohort {
		X[i] = []float64{
			fv.ReturnRate90d,
			float64(fv.FastReturnCount),
			float64(fv.HighValueReturnCount),
		}
	}
	return X
}

func zeroScores(cohort []*domain.FeatureVector) map[int64]float64 {
	scores := make(map[int64]float64, len(cohort))
	for _, fv := range cohort {
		scores[fv.UserID] = 0.0
	}
	return scores
}
