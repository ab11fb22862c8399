package anomaly

import (
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-retail/harrier/internal/domain"
)

// IsolationForest is the default cohort outlier model. The forest is
// rebuilt from scratch on every call with a fixed seed, so scoring an
// unchanged cohort twice yields identical results.
type IsolationForest struct {
	// Trees is the ensemble size.
	Trees int

	// SampleSize caps the per-tree subsample.
	SampleSize int

	// Contamination is the expected outlier fraction; it positions the
	// model's decision offset the way a fitted quantile would.
	Contamination float64

	// Seed fixes the randomness of tree construction.
	Seed int64

	// CohortFloor is the minimum cohort size for the model to run.
	CohortFloor int
}

// NewIsolationForest creates a detector from analysis configuration.
func NewIsolationForest(cfg domain.AnalysisConfig) *IsolationForest {
	return &IsolationForest{
		Trees:         100,
		SampleSize:    256,
		Contamination: cfg.Contamination,
		Seed:          cfg.Seed,
		CohortFloor:   cfg.CohortFloor,
	}
}

// Score implements Detector.
func (f *IsolationForest) Score(cohort []*domain.FeatureVector) map[int64]float64 {
	if len(cohort) == 0 {
		return map[int64]float64{}
	}
	if len(cohort) < f.CohortFloor {
		// Too few members to fit anything meaningful.
		return zeroScores(cohort)
	}

	X := featureMatrix(cohort)

	allZero := true
	for _, row := range X {
		if floats.Sum(row) != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return zeroScores(cohort)
	}

	rng := rand.New(rand.NewSource(f.Seed))
	forest := f.fit(X, rng)

	// Decision values: higher isolation score means more anomalous, so the
	// decision value (0.5 - score) is lower for outliers, matching the
	// convention that lower = more anomalous.
	decisions := make([]float64, len(X))
	for i, row := range X {
		decisions[i] = 0.5 - forest.isolationScore(row)
	}

	offset := quantileOf(decisions, f.Contamination)
	slog.Debug("anomaly model fitted",
		"cohort", len(cohort),
		"trees", f.Trees,
		"offset", offset,
	)

	maxD := floats.Max(decisions)
	minD := floats.Min(decisions)
	if maxD == minD {
		// Zero spread: nobody stands out within this batch.
		return zeroScores(cohort)
	}

	scores := make(map[int64]float64, len(cohort))
	for i, fv := range cohort {
		scores[fv.UserID] = (maxD - decisions[i]) / (maxD - minD)
	}
	return scores
}

type forest struct {
	trees      []*treeNode
	avgPathLen float64
}

// fit grows the ensemble over random subsamples.
func (f *IsolationForest) fit(X [][]float64, rng *rand.Rand) *forest {
	sampleSize := f.SampleSize
	if sampleSize > len(X) {
		sampleSize = len(X)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	trees := make([]*treeNode, f.Trees)
	for i := range trees {
		perm := rng.Perm(len(X))
		sample := make([][]float64, sampleSize)
		for j := 0; j < sampleSize; j++ {
			sample[j] = X[perm[j]]
		}
		trees[i] = growTree(sample, 0, maxDepth, rng)
	}

	return &forest{trees: trees, avgPathLen: avgPathLength(sampleSize)}
}

// isolationScore returns the standard 2^(-E[h(x)]/c(n)) anomaly score,
// where higher means more isolated.
func (fo *forest) isolationScore(x []float64) float64 {
	total := 0.0
	for _, t := range fo.trees {
		total += pathLength(t, x, 0)
	}
	mean := total / float64(len(fo.trees))
	return math.Pow(2, -mean/fo.avgPathLen)
}

type treeNode struct {
	feature int
	split   float64
	left    *treeNode
	right   *treeNode
	size    int // leaf only
}

func growTree(sample [][]float64, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if depth >= maxDepth || len(sample) <= 1 {
		return &treeNode{size: len(sample)}
	}

	nFeatures := len(sample[0])

	// Pick a random feature with spread; give up after trying each once.
	order := rng.Perm(nFeatures)
	for _, feature := range order {
		lo, hi := sample[0][feature], sample[0][feature]
		for _, row := range sample[1:] {
			if row[feature] < lo {
				lo = row[feature]
			}
			if row[feature] > hi {
				hi = row[feature]
			}
		}
		if lo == hi {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)

		var left, right [][]float64
		for _, row := range sample {
			if row[feature] < split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}

		return &treeNode{
			feature: feature,
			split:   split,
			left:    growTree(left, depth+1, maxDepth, rng),
			right:   growTree(right, depth+1, maxDepth, rng),
		}
	}

	// All features constant across the sample.
	return &treeNode{size: len(sample)}
}

func pathLength(node *treeNode, x []float64, depth int) float64 {
	if node.left == nil {
		return float64(depth) + avgPathLength(node.size)
	}
	if x[node.feature] < node.split {
		return pathLength(node.left, x, depth+1)
	}
	return pathLength(node.right, x, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	switch {
	case n > 2:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	case n == 2:
		return 1
	default:
		return 0
	}
}

const eulerGamma = 0.5772156649015329

// quantileOf returns the empirical p-quantile of values.
func quantileOf(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}
