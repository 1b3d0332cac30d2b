package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// hourlyReadings emits one reading per hour for days, with flow chosen per day index.
func hourlyReadings(days int, flow func(day int) float64) []models.FlowReading {
	out := make([]models.FlowReading, 0, days*24)
	for d := 0; d < days; d++ {
		for h := 0; h < 24; h++ {
			out = append(out, models.FlowReading{
				Timestamp: testStart.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour),
				Flow:      flow(d),
			})
		}
	}
	return out
}

// jumpFlow is flat at 50 L/h for 30 days, then 400 L/h.
func jumpFlow(day int) float64 {
	if day >= 30 {
		return 400
	}
	return 50
}

func newTestDetector(t *testing.T, readings []models.FlowReading) *Detector {
	t.Helper()
	d, err := New("SITE_A", readings, config.DefaultDetectionConfig(), nil)
	require.NoError(t, err)
	return d
}

func dayN(n int) time.Time {
	return testStart.AddDate(0, 0, n)
}

// ============================================================================
// TEST SUITE 1: PREPROCESSING
// ============================================================================

func TestPreprocess_InterpolatesShortGaps(t *testing.T) {
	base := testStart
	readings := []models.FlowReading{
		{Timestamp: base, Flow: 10},
		{Timestamp: base.Add(3 * time.Hour), Flow: 40},
	}

	samples, err := Preprocess(readings, nil)
	require.NoError(t, err)
	require.Len(t, samples, 4)
	assert.InDelta(t, 20.0, samples[1].Flow, 1e-9)
	assert.InDelta(t, 30.0, samples[2].Flow, 1e-9)
}

func TestPreprocess_ZeroFillsLongGaps(t *testing.T) {
	base := testStart
	readings := []models.FlowReading{
		{Timestamp: base, Flow: 10},
		{Timestamp: base.Add(5 * time.Hour), Flow: 40},
	}

	samples, err := Preprocess(readings, nil)
	require.NoError(t, err)
	require.Len(t, samples, 6)
	for _, s := range samples[1:5] {
		assert.Equal(t, 0.0, s.Flow, "Gaps over three hours stay at zero")
	}
}

func TestPreprocess_ClipsNegativesAndSumsWithinHour(t *testing.T) {
	base := testStart
	readings := []models.FlowReading{
		{Timestamp: base, Flow: 5},
		{Timestamp: base.Add(30 * time.Minute), Flow: 7},
		{Timestamp: base.Add(time.Hour), Flow: -3},
	}

	samples, err := Preprocess(readings, nil)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 12.0, samples[0].Flow)
	assert.Equal(t, 0.0, samples[1].Flow)
}

func TestPreprocess_UpToDropsLaterReadings(t *testing.T) {
	readings := hourlyReadings(3, func(int) float64 { return 10 })
	upTo := dayN(1).Add(23 * time.Hour)

	samples, err := Preprocess(readings, &upTo)
	require.NoError(t, err)
	assert.Len(t, samples, 48)
}

func TestCheckFrequency_RejectsSparseSeries(t *testing.T) {
	cfg := config.DefaultDetectionConfig()
	readings := []models.FlowReading{
		{Timestamp: testStart, Flow: 1},
		{Timestamp: testStart.Add(3 * time.Hour), Flow: 1},
		{Timestamp: testStart.Add(6 * time.Hour), Flow: 1},
	}

	err := CheckFrequency("SITE_A", readings, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIrregularSampling))
}

func TestNew_NoReadings(t *testing.T) {
	_, err := New("SITE_A", nil, config.DefaultDetectionConfig(), nil)
	assert.True(t, errors.Is(err, ErrNoData))
}

// ============================================================================
// TEST SUITE 2: SIGNAL SCORING
// ============================================================================

func TestScoreDay_EmptyBaselineWindow(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(5, func(int) float64 { return 80 }))

	snap := d.ScoreDay(dayN(0))

	assert.Equal(t, 0.0, snap.DeltaNF)
	assert.Equal(t, models.SubScores{}, snap.SubScores)
	assert.Equal(t, 0.0, snap.LeakScore)
}

func TestScoreDay_FlatHistoryScoresZero(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(20, func(int) float64 { return 50 }))

	snap := d.ScoreDay(dayN(18))

	assert.Equal(t, 0.0, snap.DeltaNF)
	assert.Equal(t, 0.0, snap.LeakScore)
}

func TestScoreDay_NightFlowJump(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(35, jumpFlow))

	snap := d.ScoreDay(dayN(30))

	assert.InDelta(t, 350.0, snap.DeltaNF, 1e-9)
	assert.Equal(t, 1.0, snap.SubScores.MNF)
	assert.Equal(t, 1.0, snap.SubScores.Residual)
	assert.Equal(t, 1.0, snap.SubScores.BurstBF, "Next night stays high so the burst persists")
	assert.GreaterOrEqual(t, snap.LeakScore, 30.0)
	assert.LessOrEqual(t, snap.LeakScore, 100.0)
}

func TestScoreDay_Idempotent(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(35, jumpFlow))

	first := d.ScoreDay(dayN(31))
	second := d.ScoreDay(dayN(31))

	assert.Equal(t, first, second)
}

func TestScoreDay_BurstOnLastDayIsZero(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(31, jumpFlow))

	snap := d.ScoreDay(dayN(30))

	assert.Equal(t, 0.0, snap.SubScores.BurstBF, "No next night to confirm the shift")
}

func TestDiagnoseBurstBF_ReportsSpikes(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(35, jumpFlow))

	diag, err := d.DiagnoseBurstBF(dayN(30))
	require.NoError(t, err)

	assert.True(t, diag.HasSpikes)
	assert.Equal(t, 24, diag.SpikeCount)
	require.NotNil(t, diag.NextDayCheck)
	assert.True(t, diag.NextDayCheck.ThresholdMet)
	assert.Equal(t, 1.0, diag.FinalBurstBF)
}

func TestDiagnoseBurstBF_UnknownDate(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(5, jumpFlow))

	_, err := d.DiagnoseBurstBF(dayN(40))
	assert.True(t, errors.Is(err, ErrNoData))
}

// ============================================================================
// TEST SUITE 3: END-TO-END REPLAY
// ============================================================================

func TestRun_NightFlowJumpEscalates(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(35, jumpFlow))

	out := d.Run()
	require.Len(t, out, 35)

	for i := 0; i < 30; i++ {
		assert.Equal(t, models.StatusOK, out[i].Status, "day %d", i)
	}
	assert.Equal(t, models.StatusWatch, out[30].Status)
	assert.Equal(t, "Monitor next night", out[30].NextAction)
	assert.Equal(t, models.StatusCall, out[34].Status)
	assert.Equal(t, "Escalate to plumber", out[34].NextAction)

	incidents := d.Incidents()
	require.Len(t, incidents, 1)
	inc := incidents[0]
	assert.Equal(t, dayN(30), inc.StartDay)
	assert.Equal(t, dayN(34), inc.LastDay)
	assert.Equal(t, 5, inc.DaysPersisted)
	assert.InDelta(t, 350.0, inc.MaxDeltaNF, 1e-9)
	assert.Equal(t, "S3", inc.SeverityMax)
	assert.False(t, inc.Closed)
	assert.Equal(t, CategoryLargeBurst, inc.Category)
	assert.Len(t, inc.SignalComponentsByDate, 5)
}

func TestRun_MonotonicAccumulators(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(35, jumpFlow))
	out := d.Run()

	for i := 31; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i].DaysPersisted, out[i-1].DaysPersisted)
		assert.GreaterOrEqual(t, out[i].EstVolumeLostKL, out[i-1].EstVolumeLostKL)
	}
}

func TestRun_Idempotent(t *testing.T) {
	readings := hourlyReadings(35, jumpFlow)

	first := newTestDetector(t, readings)
	second := newTestDetector(t, readings)

	assert.Equal(t, first.Run(), second.Run())
	assert.Equal(t, first.Snapshots(), second.Snapshots())
}

func TestRun_FrozenSnapshotsSurviveExtension(t *testing.T) {
	short := newTestDetector(t, hourlyReadings(32, jumpFlow))
	short.Run()
	prior := short.Snapshots()

	last := models.DayKey(dayN(31))
	require.Contains(t, prior.Signals, last)
	assert.Equal(t, 0.0, prior.Signals[last].SubScores.BurstBF)

	long := newTestDetector(t, hourlyReadings(35, jumpFlow))
	long.Restore(prior)
	long.Run()
	after := long.Snapshots()

	for key, conf := range prior.Confidence {
		assert.Equal(t, conf, after.Confidence[key], "confidence for %s must not move", key)
	}
	assert.Equal(t, prior.Signals[last], after.Signals[last])
	assert.Equal(t, 1.0, long.ScoreDay(dayN(31)).SubScores.BurstBF, "A fresh score would differ")
}

func TestCanonicalizeIncident(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(35, jumpFlow))
	d.Run()
	require.Len(t, d.Incidents(), 1)

	rec := CanonicalizeIncident(d.Incidents()[0])

	assert.Equal(t, "SITE_A__2024-03-31__2024-04-04", rec.EventID)
	assert.Equal(t, dayN(32), rec.AlertDate, "Alert is start + days_needed - 1")
	assert.InDelta(t, rec.VolumeLostKL*1000, rec.TotalVolumeL, 1e-9)
	assert.Equal(t, 120.0, rec.DurationHours)
	assert.Equal(t, []string{"AFTERHRS", "BURSTBF", "CUSUM", "MNF", "RESIDUAL"}, rec.ReasonCodes)
}

func TestCanonicalizeIncident_DerivesMissingAlertDate(t *testing.T) {
	inc := &models.Incident{SiteID: "S", StartDay: dayN(0), LastDay: dayN(4), DaysNeeded: 3}
	assert.Equal(t, dayN(2), CanonicalizeIncident(inc).AlertDate)

	inc.DaysNeeded = 0
	assert.Equal(t, dayN(4), CanonicalizeIncident(inc).AlertDate)
}

func TestPatternIncident_FromDetector(t *testing.T) {
	d := newTestDetector(t, hourlyReadings(35, jumpFlow))
	d.Run()

	pi := d.PatternIncident(d.Incidents()[0])

	require.NotNil(t, pi.MNFLph)
	assert.InDelta(t, 400.0, *pi.MNFLph, 1e-9)
	require.NotNil(t, pi.PeakFlowLph)
	assert.Equal(t, 400.0, *pi.PeakFlowLph)
	assert.Equal(t, 1.0, pi.SubScores["MNF"])
}
