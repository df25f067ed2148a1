// Package stats aggregates classification results and tests the
// liquidity-first proportion against a uniform three-class null.
package stats

import (
	"math"
	"math/rand"
	"sort"

	"github.com/marketshock/forensics/internal/ordering"
	"github.com/marketshock/forensics/internal/report"
)

// DefaultNullProportion is the uniform three-class null hypothesis.
const DefaultNullProportion = 1.0 / 3.0

// BinomialTest holds the two-sided test outcome.
type BinomialTest struct {
	PValue          float64 `json:"p_value"`
	SignificantAt05 bool    `json:"significant_at_05"`
	SignificantAt01 bool    `json:"significant_at_01"`
}

// BootstrapCI holds a percentile bootstrap confidence interval.
type BootstrapCI struct {
	ConfidenceLevel float64 `json:"confidence_level"`
	Resamples       int     `json:"n_resamples"`
	Lower           float64 `json:"lower"`
	Upper           float64 `json:"upper"`
	Seed            int64   `json:"seed"`
}

// Summary is the aggregate statistical report over a set of ordering results.
type Summary struct {
	TotalEvents         int            `json:"total_events"`
	Counts              map[string]int `json:"counts"`
	LiquidityFirstCount int            `json:"liquidity_first_count"`
	ObservedProportion  float64        `json:"observed_proportion"`
	NullProportion      float64        `json:"null_proportion"`
	BinomialTest        BinomialTest   `json:"binomial_test"`
	BootstrapCI         BootstrapCI    `json:"bootstrap_ci"`
}

// Options controls the aggregate analysis.
type Options struct {
	NullProportion float64
	Resamples      int
	Seed           int64
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{NullProportion: DefaultNullProportion, Resamples: 1000, Seed: 42}
}

// CountClassifications tallies records by classification label.
func CountClassifications(records []report.OrderingRecord) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		cls := r.Classification
		if cls == "" {
			cls = "unknown"
		}
		counts[cls]++
	}
	return counts
}

// Analyze computes the full summary for a set of ordering records.
func Analyze(records []report.OrderingRecord, opts Options) Summary {
	counts := CountClassifications(records)
	total := len(records)
	liquidityFirst := counts[ordering.ClassLiquidityFirst]

	observed := 0.0
	if total > 0 {
		observed = float64(liquidityFirst) / float64(total)
	}

	pValue := BinomialTestTwoSided(liquidityFirst, total, opts.NullProportion)
	lower, upper := BootstrapProportionCI(liquidityFirst, total, opts.Resamples, 0.95, opts.Seed)

	return Summary{
		TotalEvents:         total,
		Counts:              counts,
		LiquidityFirstCount: liquidityFirst,
		ObservedProportion:  observed,
		NullProportion:      opts.NullProportion,
		BinomialTest: BinomialTest{
			PValue:          pValue,
			SignificantAt05: pValue < 0.05,
			SignificantAt01: pValue < 0.01,
		},
		BootstrapCI: BootstrapCI{
			ConfidenceLevel: 0.95,
			Resamples:       opts.Resamples,
			Lower:           lower,
			Upper:           upper,
			Seed:            opts.Seed,
		},
	}
}

// BinomialPMF computes P(X = k) for X ~ Binomial(n, p).
// Uses log-gamma to stay stable for large n.
func BinomialPMF(n, k int, p float64) float64 {
	if k < 0 || k > n {
		return 0.0
	}
	if p == 0 {
		if k == 0 {
			return 1.0
		}
		return 0.0
	}
	if p == 1 {
		if k == n {
			return 1.0
		}
		return 0.0
	}

	lgN, _ := math.Lgamma(float64(n) + 1)
	lgK, _ := math.Lgamma(float64(k) + 1)
	lgNK, _ := math.Lgamma(float64(n-k) + 1)
	logCoeff := lgN - lgK - lgNK

	logProb := logCoeff + float64(k)*math.Log(p) + float64(n-k)*math.Log(1-p)
	return math.Exp(logProb)
}

// BinomialTestTwoSided computes a two-sided exact binomial p-value by
// summing the probability of every outcome at least as extreme as the
// observed count.
func BinomialTestTwoSided(k, n int, pNull float64) float64 {
	if n == 0 {
		return 1.0
	}

	observedProb := BinomialPMF(n, k, pNull)

	pValue := 0.0
	for i := 0; i <= n; i++ {
		// Small tolerance for floating point.
		if prob := BinomialPMF(n, i, pNull); prob <= observedProb+1e-10 {
			pValue += prob
		}
	}
	return math.Min(pValue, 1.0)
}

// BootstrapProportionCI computes a percentile bootstrap confidence interval
// for a proportion of successes out of total. The seed makes runs
// reproducible.
func BootstrapProportionCI(successes, total, resamples int, ciLevel float64, seed int64) (float64, float64) {
	if total == 0 {
		return 0.0, 1.0
	}

	rng := rand.New(rand.NewSource(seed))
	pHat := float64(successes) / float64(total)

	proportions := make([]float64, resamples)
	for i := range proportions {
		hits := 0
		for j := 0; j < total; j++ {
			if rng.Float64() < pHat {
				hits++
			}
		}
		proportions[i] = float64(hits) / float64(total)
	}
	sort.Float64s(proportions)

	alpha := 1 - ciLevel
	lowerIdx := int(alpha / 2 * float64(resamples))
	upperIdx := int((1-alpha/2)*float64(resamples)) - 1
	if lowerIdx < 0 {
		lowerIdx = 0
	}
	if upperIdx > resamples-1 {
		upperIdx = resamples - 1
	}
	return proportions[lowerIdx], proportions[upperIdx]
}
