package anomaly

import (
	"testing"

	"github.com/opensource-retail/harrier/internal/domain"
)

func testConfig() domain.AnalysisConfig {
	cfg := domain.DefaultAnalysisConfig()
	return cfg
}

func fv(userID int64, rate float64, fast, highValue int) *domain.FeatureVector {
	return &domain.FeatureVector{
		UserID:               userID,
		ReturnRate90d:        rate,
		FastReturnCount:      fast,
		HighValueReturnCount: highValue,
	}
}

func TestScoreSmallCohortIsZero(t *testing.T) {
	det := NewIsolationForest(testConfig())

	cohort := []*domain.FeatureVector{
		fv(1, 0.9, 4, 3),
		fv(2, 0.1, 0, 0),
	}

	scores := det.Score(cohort)
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
	for userID, s := range scores {
		if s != 0.0 {
			t.Errorf("user %d: expected 0.0 below cohort floor, got %f", userID, s)
		}
	}
}

func TestScoreZeroFeaturesIsZero(t *testing.T) {
	det := NewIsolationForest(testConfig())

	var cohort []*domain.FeatureVector
	for i := int64(1); i <= 10; i++ {
		cohort = append(cohort, fv(i, 0, 0, 0))
	}

	for userID, s := range det.Score(cohort) {
		if s != 0.0 {
			t.Errorf("user %d: expected 0.0 for all-zero features, got %f", userID, s)
		}
	}
}

func TestScoreZeroVarianceIsZero(t *testing.T) {
	det := NewIsolationForest(testConfig())

	// Identical non-zero rows: no member can stand out.
	var cohort []*domain.FeatureVector
	for i := int64(1); i <= 8; i++ {
		cohort = append(cohort, fv(i, 0.5, 1, 1))
	}

	for userID, s := range det.Score(cohort) {
		if s != 0.0 {
			t.Errorf("user %d: expected 0.0 for zero-variance cohort, got %f", userID, s)
		}
	}
}

func TestScoreOutlierRanksHighest(t *testing.T) {
	det := NewIsolationForest(testConfig())

	var cohort []*domain.FeatureVector
	for i := int64(1); i <= 20; i++ {
		cohort = append(cohort, fv(i, 0.1, 0, 0))
	}
	cohort = append(cohort, fv(99, 0.95, 5, 4))

	scores := det.Score(cohort)

	outlier := scores[99]
	if outlier != 1.0 {
		t.Errorf("expected batch maximum 1.0 for the outlier, got %f", outlier)
	}
	for i := int64(1); i <= 20; i++ {
		if scores[i] >= outlier {
			t.Errorf("user %d scored %f, not below outlier %f", i, scores[i], outlier)
		}
	}

	sawZero := false
	for _, s := range scores {
		if s < 0 || s > 1 {
			t.Errorf("score %f outside [0, 1]", s)
		}
		if s == 0.0 {
			sawZero = true
		}
	}
	if !sawZero {
		t.Error("min-max scaling should pin the least anomalous member to 0.0")
	}
}

func TestScoreDeterministic(t *testing.T) {
	cohort := []*domain.FeatureVector{
		fv(1, 0.1, 0, 0),
		fv(2, 0.2, 1, 0),
		fv(3, 0.15, 0, 1),
		fv(4, 0.9, 4, 3),
		fv(5, 0.05, 0, 0),
		fv(6, 0.3, 1, 1),
	}

	first := NewIsolationForest(testConfig()).Score(cohort)
	second := NewIsolationForest(testConfig()).Score(cohort)

	for userID, s := range first {
		if second[userID] != s {
			t.Errorf("user %d: run 1 scored %f, run 2 scored %f", userID, s, second[userID])
		}
	}
}

func TestScoreEmptyCohort(t *testing.T) {
	scores := NewIsolationForest(testConfig()).Score(nil)
	if len(scores) != 0 {
		t.Fatalf("expected empty map, got %d entries", len(scores))
	}
}
