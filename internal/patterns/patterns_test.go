package patterns

import (
	"math"
	"testing"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fullFingerprint() models.SignalFingerprint {
	return BuildSignalFingerprint(models.PatternIncident{
		SubScores:     map[string]float64{"MNF": 1, "BURSTBF": 0.8, "CUSUM": 0.4},
		MNFLph:        ptr(300),
		VolumeKL:      ptr(7.2),
		DurationHours: ptr(24),
	})
}

// ============================================================================
// TEST SUITE 1: FINGERPRINTS
// ============================================================================

func TestBuildSignalFingerprint(t *testing.T) {
	fp := BuildSignalFingerprint(models.PatternIncident{
		SubScores:     map[string]float64{"MNF": 0.91234, "CUSUM": 0.05, "AFTERHRS": 0.5},
		MNFLph:        ptr(300),
		DurationHours: ptr(4),
	})

	assert.Equal(t, []string{"AFTERHRS", "MNF"}, fp.SignalsActive)
	assert.Equal(t, map[string]float64{"AFTERHRS": 0.5, "MNF": 0.91}, fp.SignalScores)
	assert.Equal(t, 300.0, *fp.MNFValueLph)
	assert.Equal(t, []float64{210, 390}, fp.MNFRange)
	assert.Equal(t, []float64{0, 10}, fp.DurationRange)
	assert.Nil(t, fp.VolumeRange)
	assert.Nil(t, fp.AvgFlowRateLph)
}

func TestBuildTimeFingerprint_MondayIsZero(t *testing.T) {
	// 2024-01-15 is a Monday.
	fp := BuildTimeFingerprint(models.PatternIncident{StartDay: date(2024, 1, 15)})
	assert.Equal(t, []int{0}, fp.DaysOfWeek)

	assert.Equal(t, 6, Weekday(date(2024, 1, 14)))
	assert.Empty(t, BuildTimeFingerprint(models.PatternIncident{}).DaysOfWeek)
}

func TestPatternID(t *testing.T) {
	fp := fullFingerprint()

	a, err := PatternID("SITE_A", "pool_fill", fp)
	assert.NoError(t, err)
	b, _ := PatternID("SITE_A", "pool_fill", fp)
	c, _ := PatternID("SITE_A", "fire_test", fp)

	assert.Len(t, a, 12)
	assert.Regexp(t, "^[0-9A-F]{12}$", a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPatternID_MatchesPythonSortedJSON(t *testing.T) {
	fp := BuildSignalFingerprint(models.PatternIncident{
		SubScores:     map[string]float64{"MNF": 0.91234, "CUSUM": 0.05, "AFTERHRS": 0.5},
		MNFLph:        ptr(300),
		VolumeKL:      ptr(7.2),
		DurationHours: ptr(4),
	})

	assert.Equal(t,
		`{"avg_flow_rate_Lph": null, "duration_hours": 4.0, "duration_range": [0, 10.0], `+
			`"mnf_range": [210.0, 390.0], "mnf_value_Lph": 300.0, "peak_flow_rate_Lph": null, `+
			`"signal_scores": {"AFTERHRS": 0.5, "MNF": 0.91}, "signals_active": ["AFTERHRS", "MNF"], `+
			`"volume_kL": 7.2, "volume_range": [3.6, 10.8]}`,
		canonicalFingerprint(fp))

	id, err := PatternID("SITE_A", "pool_fill", fp)
	require.NoError(t, err)
	assert.Equal(t, "D617236BA97F", id)
}

func TestCanonicalFingerprint_EmptyAndExponents(t *testing.T) {
	fp := models.SignalFingerprint{PeakFlowRateLph: ptr(1e-05), VolumeKL: ptr(1.5e16)}
	assert.Equal(t,
		`{"avg_flow_rate_Lph": null, "duration_hours": null, "duration_range": null, `+
			`"mnf_range": null, "mnf_value_Lph": null, "peak_flow_rate_Lph": 1e-05, `+
			`"signal_scores": {}, "signals_active": [], "volume_kL": 1.5e+16, "volume_range": null}`,
		canonicalFingerprint(fp))

	assert.Equal(t, `"caf\u00e9 \"x\"\n"`, pyString("café \"x\"\n"))
	assert.Equal(t, "-0.0", pyFloat(math.Copysign(0, -1)))
}

func TestNormalizePatternIncident(t *testing.T) {
	inc := NormalizePatternIncident(map[string]any{
		"event_id":     "SITE_A__2024-01-10__2024-01-12",
		"site_id":      "SITE_A",
		"start_day":    "2024-01-10",
		"subscores_ui": map[string]any{},
		"subscores":    map[string]any{"MNF": 0.9, "CUSUM": "0.4"},
		"avg_mnf_Lph":  0,
		"mnf_Lph":      "250.5",
		"max_flow":     int64(600),
		"volume_kL":    12.5,
	})

	assert.Equal(t, "SITE_A", inc.SiteID)
	assert.True(t, inc.StartDay.Equal(date(2024, 1, 10)))
	assert.Equal(t, map[string]float64{"MNF": 0.9, "CUSUM": 0.4}, inc.SubScores)
	assert.Equal(t, 250.5, *inc.MNFLph)
	assert.Equal(t, 600.0, *inc.PeakFlowLph)
	assert.Equal(t, 12.5, *inc.VolumeKL)
	assert.Nil(t, inc.AvgFlowLph)
	assert.Nil(t, inc.DurationHours)
}

// ============================================================================
// TEST SUITE 2: SIMILARITY
// ============================================================================

func TestSignalSimilarity_SelfIsOne(t *testing.T) {
	fp := fullFingerprint()
	assert.InDelta(t, 1.0, SignalSimilarity(fp, fp, DefaultMNFTolerance), 1e-9)
}

func TestSignalSimilarity_EmptySideIsZero(t *testing.T) {
	fp := fullFingerprint()
	assert.Equal(t, 0.0, SignalSimilarity(fp, models.SignalFingerprint{}, DefaultMNFTolerance))
	assert.Equal(t, 0.0, SignalSimilarity(models.SignalFingerprint{}, fp, DefaultMNFTolerance))
}

func TestSignalSimilarity_Bounded(t *testing.T) {
	base := fullFingerprint()
	others := []models.SignalFingerprint{
		BuildSignalFingerprint(models.PatternIncident{SubScores: map[string]float64{"AFTERHRS": 1}}),
		BuildSignalFingerprint(models.PatternIncident{SubScores: map[string]float64{"MNF": 0.2}, MNFLph: ptr(5000)}),
		BuildSignalFingerprint(models.PatternIncident{VolumeKL: ptr(900), DurationHours: ptr(200)}),
	}
	for _, o := range others {
		s := SignalSimilarity(base, o, DefaultMNFTolerance)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestSignalSimilarity_DisjointSignals(t *testing.T) {
	a := BuildSignalFingerprint(models.PatternIncident{SubScores: map[string]float64{"MNF": 1}})
	b := BuildSignalFingerprint(models.PatternIncident{SubScores: map[string]float64{"AFTERHRS": 1}})

	// Only the Jaccard term applies and there is no overlap.
	assert.Equal(t, 0.0, SignalSimilarity(a, b, DefaultMNFTolerance))
}

func TestMNFSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, MNFSimilarity(100, 100, 0.3), 1e-9)
	assert.InDelta(t, 0.7, MNFSimilarity(100, 130, 0.3), 1e-9)
	assert.InDelta(t, 0.25, MNFSimilarity(100, 145, 0.3), 1e-9)
	assert.Equal(t, 0.0, MNFSimilarity(100, 200, 0.3))
	assert.Equal(t, 0.0, MNFSimilarity(0, 100, 0.3))

	// Tolerance below the floor is raised to 0.15.
	assert.InDelta(t, 0.7, MNFSimilarity(100, 115, 0.05), 1e-9)
}

func TestTimeSimilarity(t *testing.T) {
	wed := date(2024, 1, 17)
	start, end := "06:00", "08:00"

	assert.Equal(t, 0.5, TimeSimilarity(wed, &models.Pattern{}))

	windowOnly := &models.Pattern{TimeFingerprint: models.TimeFingerprint{TimeWindowStart: &start, TimeWindowEnd: &end}}
	assert.InDelta(t, 0.5, TimeSimilarity(wed, windowOnly), 1e-9)

	both := &models.Pattern{TimeFingerprint: models.TimeFingerprint{DaysOfWeek: []int{2}, TimeWindowStart: &start, TimeWindowEnd: &end}}
	assert.InDelta(t, 0.75, TimeSimilarity(wed, both), 1e-9)

	mismatch := &models.Pattern{TimeFingerprint: models.TimeFingerprint{DaysOfWeek: []int{4}}}
	assert.Equal(t, 0.0, TimeSimilarity(wed, mismatch))

	fromRule := &models.Pattern{RecurrenceRule: models.RecurrenceRule{IsRecurring: true, DaysOfWeek: []int{2}}}
	assert.Equal(t, 1.0, TimeSimilarity(wed, fromRule))
}

// ============================================================================
// TEST SUITE 3: SEASONS
// ============================================================================

func TestDetectSeason(t *testing.T) {
	cases := []struct {
		day      time.Time
		expected models.Season
	}{
		{date(2024, 1, 15), models.SeasonSummer},
		{date(2024, 12, 25), models.SeasonSummer},
		{date(2024, 1, 31), models.SeasonSummer},
		{date(2024, 2, 1), models.SeasonTerm1},
		{date(2024, 3, 1), models.SeasonTerm1},
		{date(2024, 4, 20), models.SeasonAutumnBreak},
		{date(2024, 5, 10), models.SeasonTerm2},
		{date(2024, 7, 10), models.SeasonWinterBreak},
		{date(2024, 8, 10), models.SeasonTerm3},
		{date(2024, 10, 1), models.SeasonSpringBreak},
		{date(2024, 11, 5), models.SeasonTerm4},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, DetectSeason(tc.day), tc.day.Format(models.DateLayout))
	}
	assert.True(t, IsSchoolHoliday(date(2024, 7, 10)))
	assert.True(t, IsSchoolTerm(date(2024, 8, 10)))
}

func TestSeasonalFactor(t *testing.T) {
	jan := date(2024, 1, 15)
	mar := date(2024, 3, 1)

	assert.Equal(t, SeasonNeutral, SeasonalFactor(jan, nil))
	assert.Equal(t, SeasonMatchBoost, SeasonalFactor(jan, []models.Season{models.SeasonSummer}))
	assert.Equal(t, SeasonWildcardBoost, SeasonalFactor(mar, []models.Season{models.SeasonAnyTerm}))
	assert.Equal(t, SeasonWildcardBoost, SeasonalFactor(jan, []models.Season{models.SeasonAnyHoliday}))
	assert.Equal(t, SeasonMismatchPenalty, SeasonalFactor(jan, []models.Season{models.SeasonTerm2}))

	assert.Equal(t, 1.0, ApplySeasonalBoost(0.9, jan, []models.Season{models.SeasonSummer}))
	assert.InDelta(t, 0.4, ApplySeasonalBoost(0.5, jan, []models.Season{models.SeasonTerm2}), 1e-9)
}

func TestFilterSeasonTags(t *testing.T) {
	tags := FilterSeasonTags([]string{"summer", "monsoon", "term_2"})
	assert.Equal(t, []models.Season{models.SeasonSummer, models.SeasonTerm2}, tags)
	assert.NotNil(t, FilterSeasonTags(nil))
}

func TestDetectPoolPresence(t *testing.T) {
	var samples []UsageSample
	for _, m := range []time.Month{time.January, time.February, time.December} {
		samples = append(samples, UsageSample{Time: date(2024, m, 10), UsageKL: 20})
	}
	for _, m := range []time.Month{time.March, time.June, time.September} {
		samples = append(samples, UsageSample{Time: date(2024, m, 10), UsageKL: 10})
	}

	hasPool, increase := DetectPoolPresence(samples, DefaultPoolSpikeThreshold)
	assert.True(t, hasPool)
	assert.Equal(t, 1.0, increase)

	hasPool, _ = DetectPoolPresence(samples[3:], DefaultPoolSpikeThreshold)
	assert.False(t, hasPool)
}

// ============================================================================
// TEST SUITE 4: ADAPTIVE TOLERANCE
// ============================================================================

func TestCVToTolerance(t *testing.T) {
	assert.Equal(t, 0.15, CVToTolerance(0.05))
	assert.Equal(t, 0.25, CVToTolerance(0.15))
	assert.Equal(t, 0.40, CVToTolerance(0.30))
	assert.Equal(t, 0.50, CVToTolerance(0.60))
}

func TestAdaptiveTolerance(t *testing.T) {
	tol, st := AdaptiveTolerance("SITE_A", []float64{100, 110, 0, 90}, nil)
	assert.Equal(t, DefaultMNFTolerance, tol)
	assert.Equal(t, ToleranceSourceHistory, st.Source)
	assert.Equal(t, 3, st.SampleCount)

	history := make([]float64, 40)
	for i := range history {
		history[i] = 85
		if i%2 == 1 {
			history[i] = 115
		}
	}
	tol, st = AdaptiveTolerance("SITE_A", history, nil)
	assert.Equal(t, 0.25, tol)
	assert.Equal(t, 0.15, *st.CV)
	assert.Equal(t, 100.0, *st.MeanMNF)

	tol, st = AdaptiveTolerance("SITE_B", nil, nil)
	assert.Equal(t, DefaultMNFTolerance, tol)
	assert.Equal(t, ToleranceSourceDefault, st.Source)
}

func TestAdaptiveTolerance_TopsUpFromPatterns(t *testing.T) {
	var site []models.Pattern
	for i := 0; i < MinMNFSamples; i++ {
		site = append(site, models.Pattern{SiteID: "SITE_A", SignalFingerprint: models.SignalFingerprint{MNFValueLph: ptr(200)}})
	}
	site = append(site, models.Pattern{SiteID: "SITE_B", SignalFingerprint: models.SignalFingerprint{MNFValueLph: ptr(900)}})

	tol, st := AdaptiveTolerance("SITE_A", nil, site)
	assert.Equal(t, MinMNFTolerance, tol)
	assert.Equal(t, ToleranceSourcePatterns, st.Source)
	assert.Equal(t, MinMNFSamples, st.SampleCount)
}

// ============================================================================
// TEST SUITE 5: DISPLAY
// ============================================================================

func TestCategoryDisplayName(t *testing.T) {
	assert.Equal(t, "Pool Fill", CategoryDisplayName("pool_fill"))
	assert.Equal(t, "Data Error / Sensor Issue", CategoryDisplayName("data_error"))
	assert.Equal(t, "Roof Gutter", CategoryDisplayName("roof_gutter"))
}

func TestSummary(t *testing.T) {
	weekly, start, end := "weekly", "06:00", "08:00"
	p := &models.Pattern{
		Category:        "pool_fill",
		RecurrenceRule:  models.RecurrenceRule{IsRecurring: true, Type: &weekly, DaysOfWeek: []int{0, 2}},
		TimeFingerprint: models.TimeFingerprint{TimeWindowStart: &start, TimeWindowEnd: &end},
		Confidence:      0.65,
		AutoSuppress:    true,
	}
	assert.Equal(t,
		"Category: Pool Fill | Recurs: weekly (Mon, Wed) | Time: 06:00 - 08:00 | Confidence: 65% | Auto-suppress ON",
		Summary(p))

	assert.Equal(t, "Category: Other | Confidence: 10%", Summary(&models.Pattern{Category: "other", Confidence: 0.1}))
}
