// Package scoring turns feature vectors and anomaly scores into composite
// risk scores with human-readable reasoning.
package scoring

import (
	"math"

	"github.com/opensource-retail/harrier/internal/domain"
)

// Scorer computes the 0-100 composite risk score for a scored user.
// Users with at most one transaction in the analysis window are scored by
// the first-order engine, everyone else by the behavioral engine; the
// choice is recorded on the feature vector during aggregation.
type Scorer struct {
	reasons *ReasonEngine
}

// NewScorer creates a scorer with the default reason catalog.
func NewScorer() (*Scorer, error) {
	reasons, err := NewReasonEngine(BuiltinReasonRules())
	if err != nil {
		return nil, err
	}
	return &Scorer{reasons: reasons}, nil
}

// NewScorerWithRules creates a scorer with a custom reason catalog.
func NewScorerWithRules(rules []ReasonRule) (*Scorer, error) {
	reasons, err := NewReasonEngine(rules)
	if err != nil {
		return nil, err
	}
	return &Scorer{reasons: reasons}, nil
}

// Score combines the feature vector with its batch anomaly score.
func (s *Scorer) Score(fv *domain.FeatureVector, anomalyScore float64) *domain.BehaviorScore {
	var risk float64
	switch fv.EngineUsed {
	case domain.EngineFirstOrder:
		risk = firstOrderRisk(fv, anomalyScore)
	default:
		risk = behavioralRisk(fv, anomalyScore)
	}

	return &domain.BehaviorScore{
		FeatureVector:    *fv,
		AnomalyScore:     round2(anomalyScore),
		OverallRiskScore: round2(risk),
		Reasoning:        s.reasons.Reasons(fv, anomalyScore),
	}
}

// firstOrderRisk scores users with sparse history. Payment and shipping
// signals dominate because there is no behavior track record to lean on.
func firstOrderRisk(fv *domain.FeatureVector, anomalyScore float64) float64 {
	return 0.40*math.Min(fv.PaymentRiskScore, 100) +
		0.30*math.Min(float64(fv.HighValueReturnCount)*20, 100) +
		0.20*math.Min(fv.RefundValueRatio*100, 100) +
		0.10*anomalyScore*100
}

// behavioralRisk scores users with enough history for the return-pattern
// features to carry signal.
func behavioralRisk(fv *domain.FeatureVector, anomalyScore float64) float64 {
	return 0.30*math.Min(fv.ReturnRate90d, 1)*100 +
		0.20*math.Min(float64(fv.FastReturnCount)/5*100, 100) +
		0.15*math.Min(float64(fv.HighValueReturnCount)/5*100, 100) +
		0.15*math.Min(fv.RefundValueRatio, 1)*100 +
		0.10*math.Min(fv.CategoryRiskScore, 100) +
		0.10*anomalyScore*100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
