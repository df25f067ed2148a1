package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketshock/forensics/internal/ordering"
	"github.com/marketshock/forensics/internal/report"
)

func TestBinomialPMF(t *testing.T) {
	tests := []struct {
		name string
		n, k int
		p    float64
		want float64
	}{
		{"fair coin two of four", 4, 2, 0.5, 0.375},
		{"all heads", 3, 3, 0.5, 0.125},
		{"k out of range", 4, 5, 0.5, 0},
		{"negative k", 4, -1, 0.5, 0},
		{"p zero k zero", 5, 0, 0, 1},
		{"p zero k positive", 5, 2, 0, 0},
		{"p one k equals n", 5, 5, 1, 1},
		{"p one k below n", 5, 4, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, BinomialPMF(tt.n, tt.k, tt.p), 1e-12)
		})
	}
}

func TestBinomialPMFSumsToOne(t *testing.T) {
	sum := 0.0
	for k := 0; k <= 50; k++ {
		sum += BinomialPMF(50, k, 1.0/3.0)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestBinomialTestTwoSided(t *testing.T) {
	// No data cannot reject anything.
	assert.Equal(t, 1.0, BinomialTestTwoSided(0, 0, 0.5))

	// Exactly balanced outcome under a fair coin is maximally unsurprising.
	assert.InDelta(t, 1.0, BinomialTestTwoSided(1, 2, 0.5), 1e-12)

	// Ten heads out of ten: only the two extremes are as extreme.
	assert.InDelta(t, 2.0/1024.0, BinomialTestTwoSided(10, 10, 0.5), 1e-9)

	// More extreme observations give smaller p-values.
	p40 := BinomialTestTwoSided(40, 60, 1.0/3.0)
	p25 := BinomialTestTwoSided(25, 60, 1.0/3.0)
	assert.Less(t, p40, p25)
	assert.Less(t, p40, 0.05)
}

func TestBootstrapProportionCI(t *testing.T) {
	lower, upper := BootstrapProportionCI(60, 100, 1000, 0.95, 42)
	assert.GreaterOrEqual(t, lower, 0.0)
	assert.LessOrEqual(t, upper, 1.0)
	assert.LessOrEqual(t, lower, upper)
	// The point estimate sits inside the interval.
	assert.Less(t, lower, 0.6)
	assert.Greater(t, upper, 0.6)

	// Same seed reproduces the interval.
	lower2, upper2 := BootstrapProportionCI(60, 100, 1000, 0.95, 42)
	assert.Equal(t, lower, lower2)
	assert.Equal(t, upper, upper2)
}

func TestBootstrapProportionCIDegenerate(t *testing.T) {
	lower, upper := BootstrapProportionCI(0, 0, 100, 0.95, 1)
	assert.Equal(t, 0.0, lower)
	assert.Equal(t, 1.0, upper)

	lower, upper = BootstrapProportionCI(0, 50, 100, 0.95, 1)
	assert.Equal(t, 0.0, lower)
	assert.Equal(t, 0.0, upper)
}

func TestCountClassifications(t *testing.T) {
	records := []report.OrderingRecord{
		{Classification: ordering.ClassLiquidityFirst},
		{Classification: ordering.ClassLiquidityFirst},
		{Classification: ordering.ClassPriceFirst},
		{Classification: ""},
	}
	counts := CountClassifications(records)
	assert.Equal(t, map[string]int{
		ordering.ClassLiquidityFirst: 2,
		ordering.ClassPriceFirst:     1,
		"unknown":                    1,
	}, counts)
}

func TestAnalyze(t *testing.T) {
	records := make([]report.OrderingRecord, 0, 30)
	for i := 0; i < 18; i++ {
		records = append(records, report.OrderingRecord{Classification: ordering.ClassLiquidityFirst})
	}
	for i := 0; i < 7; i++ {
		records = append(records, report.OrderingRecord{Classification: ordering.ClassVolumeFirst})
	}
	for i := 0; i < 5; i++ {
		records = append(records, report.OrderingRecord{Classification: ordering.ClassPriceFirst})
	}

	summary := Analyze(records, DefaultOptions())
	require.Equal(t, 30, summary.TotalEvents)
	assert.Equal(t, 18, summary.LiquidityFirstCount)
	assert.InDelta(t, 0.6, summary.ObservedProportion, 1e-12)
	assert.InDelta(t, DefaultNullProportion, summary.NullProportion, 1e-12)
	assert.Greater(t, summary.BinomialTest.PValue, 0.0)
	assert.LessOrEqual(t, summary.BinomialTest.PValue, 1.0)
	assert.Equal(t, summary.BinomialTest.PValue < 0.05, summary.BinomialTest.SignificantAt05)
	assert.LessOrEqual(t, summary.BootstrapCI.Lower, summary.BootstrapCI.Upper)
	assert.Equal(t, 1000, summary.BootstrapCI.Resamples)
}

func TestAnalyzeEmpty(t *testing.T) {
	summary := Analyze(nil, DefaultOptions())
	assert.Equal(t, 0, summary.TotalEvents)
	assert.Equal(t, 0.0, summary.ObservedProportion)
	assert.Equal(t, 1.0, summary.BinomialTest.PValue)
}
