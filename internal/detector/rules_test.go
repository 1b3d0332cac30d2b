package detector

import (
	"testing"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/stretchr/testify/assert"
)

// ============================================================================
// TEST SUITE 1: SEVERITY
// ============================================================================

func TestSeverity_Bands(t *testing.T) {
	bands := config.DefaultDetectionConfig().SeverityBands()

	cases := []struct {
		delta    float64
		expected string
	}{
		{-5, "S1"},
		{50, "S1"},
		{100, "S2"},
		{350, "S3"},
		{4999, "S4"},
		{5000, "S5"},
		{10000, "S5"},
		{25000, "S5"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, Severity(tc.delta, bands), "deltaNF=%v", tc.delta)
	}
}

func TestSeverity_GapFallsBackToS1(t *testing.T) {
	bands := []config.SeverityBand{{Name: "S2", Low: 500, High: 600}}
	assert.Equal(t, "S1", Severity(100, bands))
}

func TestSeverityRank(t *testing.T) {
	assert.Equal(t, 4, SeverityRank("S4"))
	assert.Equal(t, 1, SeverityRank("bogus"))
	assert.Equal(t, 1, SeverityRank(""))
}

// ============================================================================
// TEST SUITE 2: CONFIDENCE
// ============================================================================

func TestConfidence_Bounds(t *testing.T) {
	all := models.SubScores{MNF: 1, Residual: 1, CUSUM: 1, AfterHrs: 1, BurstBF: 1}
	assert.InDelta(t, 100.0, Confidence(all, 12, 500, 1), 1e-9)
	assert.Equal(t, 0.0, Confidence(models.SubScores{}, 0, 0, 0))
}

func TestConfidence_Blend(t *testing.T) {
	scores := models.SubScores{MNF: 1, Residual: 0.5}

	// snr 50/10=5 -> 0.5; persistence 5/10; one agreeing signal.
	got := Confidence(scores, 5, 50, 10)

	assert.InDelta(t, 38.0, got, 1e-9)
}

func TestConfidence_MADFlooredAtOne(t *testing.T) {
	scores := models.SubScores{}
	assert.InDelta(t, 15.0, Confidence(scores, 0, 5, 0.01), 1e-9)
}

// ============================================================================
// TEST SUITE 3: PERSISTENCE GATES
// ============================================================================

func TestPersistenceNeeded(t *testing.T) {
	gates := config.DefaultDetectionConfig().PersistenceGates

	assert.Equal(t, 7, PersistenceNeeded(50, 0, 0, gates))
	assert.Equal(t, 4, PersistenceNeeded(50, 3, 80, gates))
	assert.Equal(t, 5, PersistenceNeeded(150, 1, 90, gates))
	assert.Equal(t, 4, PersistenceNeeded(300, 2, 90, gates))
	assert.Equal(t, 3, PersistenceNeeded(1500, 5, 90, gates), "Fast gate of 1 is floored at 3")
}

func TestPersistenceNeeded_NeverBelowThree(t *testing.T) {
	gates := map[string]config.PersistenceGate{
		config.GateBelow100:    {FastMin: 1, DefaultMax: 1},
		config.Gate100To200:    {FastMin: 1, DefaultMax: 1},
		config.Gate200To1000:   {FastMin: 1, DefaultMax: 1},
		config.GateAtLeast1000: {FastMin: 1, DefaultMax: 1},
	}
	for _, delta := range []float64{0, 99, 150, 999, 1e6} {
		for agree := 0; agree <= 5; agree++ {
			assert.GreaterOrEqual(t, PersistenceNeeded(delta, agree, 100, gates), 3)
		}
	}
}

// ============================================================================
// TEST SUITE 4: CATEGORISATION
// ============================================================================

func TestCategorizeLeak(t *testing.T) {
	cat, desc := CategorizeLeak(30, 2, 20)
	assert.Equal(t, CategoryFixture, cat)
	assert.Equal(t, "Low, steady flow <40 L/h. Likely toilets/taps.", desc)

	cat, _ = CategorizeLeak(80, 5, 20)
	assert.Equal(t, CategoryPipework, cat)

	cat, _ = CategorizeLeak(150, 40, 20)
	assert.Equal(t, CategoryAppliance, cat)

	cat, desc = CategorizeLeak(500, 0, 20)
	assert.Equal(t, CategoryLargeBurst, cat)
	assert.Equal(t, "Very high flow >200 L/h. Likely major pipe break.", desc)
}
