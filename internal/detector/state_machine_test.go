package detector

import (
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

type fakeSource struct {
	snaps map[string]models.SignalSnapshot
	next  map[string]float64
	calls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		snaps: make(map[string]models.SignalSnapshot),
		next:  make(map[string]float64),
		calls: make(map[string]int),
	}
}

func (f *fakeSource) Snapshot(day time.Time) models.SignalSnapshot {
	key := models.DayKey(day)
	f.calls[key]++
	return f.snaps[key]
}

func (f *fakeSource) NextDayDelta(day time.Time) (float64, bool) {
	v, ok := f.next[models.DayKey(day)]
	return v, ok
}

func triggered(deltaNF float64) models.SignalSnapshot {
	return models.SignalSnapshot{
		SubScores: models.SubScores{MNF: 1},
		LeakScore: 40,
		DeltaNF:   deltaNF,
		NFMAD:     5,
		NF:        deltaNF + 50,
	}
}

func runDays(n int) []time.Time {
	days := make([]time.Time, n)
	for i := range days {
		days[i] = dayN(i)
	}
	return days
}

func newTestMachine(src DaySource) (*StateMachine, *models.FrozenCaches) {
	caches := models.NewFrozenCaches()
	return NewStateMachine("SITE_A", config.DefaultDetectionConfig(), 20, src, &caches), &caches
}

// ============================================================================
// TEST SUITE 1: WARM-UP
// ============================================================================

func TestStateMachine_WarmUpDaysAreOK(t *testing.T) {
	src := newFakeSource()
	for i := 0; i < 14; i++ {
		src.snaps[models.DayKey(dayN(i))] = triggered(500)
	}
	sm, _ := newTestMachine(src)

	out := sm.Run(runDays(14))

	for _, rec := range out {
		assert.Equal(t, models.StatusOK, rec.Status)
		assert.Equal(t, "None", rec.NextAction)
	}
	assert.Empty(t, src.calls, "Warm-up days are never scored")
	assert.Empty(t, sm.Incidents())
}

// ============================================================================
// TEST SUITE 2: MERGE AND CLOSURE
// ============================================================================

func TestStateMachine_MergesAcrossSmallGap(t *testing.T) {
	src := newFakeSource()
	src.snaps[models.DayKey(dayN(14))] = triggered(100)
	src.snaps[models.DayKey(dayN(15))] = triggered(100)
	src.snaps[models.DayKey(dayN(17))] = triggered(100)
	sm, _ := newTestMachine(src)

	out := sm.Run(runDays(18))

	incidents := sm.Incidents()
	require.Len(t, incidents, 1)
	inc := incidents[0]
	assert.Equal(t, dayN(14), inc.StartDay)
	assert.Equal(t, dayN(17), inc.LastDay)
	assert.Equal(t, 4, inc.DaysPersisted, "Three trigger days plus one bridged day")
	assert.False(t, inc.Closed)
	assert.Equal(t, models.StatusOK, out[16].Status, "WATCH closes on the quiet day")
	assert.Equal(t, models.StatusWatch, out[17].Status)
}

func TestStateMachine_LongGapOpensNewIncident(t *testing.T) {
	src := newFakeSource()
	src.snaps[models.DayKey(dayN(14))] = triggered(100)
	src.snaps[models.DayKey(dayN(20))] = triggered(100)
	sm, _ := newTestMachine(src)

	sm.Run(runDays(21))

	incidents := sm.Incidents()
	require.Len(t, incidents, 2)
	assert.True(t, incidents[0].Closed)
	assert.Equal(t, models.CloseReasonSelfResolved, incidents[0].CloseReason)
	assert.Equal(t, dayN(20), incidents[1].StartDay)
}

func TestStateMachine_LowDeltaClosesImmediately(t *testing.T) {
	src := newFakeSource()
	snap := triggered(10)
	snap.LeakScore = 50
	src.snaps[models.DayKey(dayN(14))] = snap
	sm, _ := newTestMachine(src)

	out := sm.Run(runDays(15))

	require.Len(t, sm.Incidents(), 1)
	assert.True(t, sm.Incidents()[0].Closed)
	assert.Equal(t, models.StatusOK, out[14].Status)
}

func TestStateMachine_ConfirmedIncidentNeverAutoCloses(t *testing.T) {
	src := newFakeSource()
	for i := 14; i < 20; i++ {
		src.snaps[models.DayKey(dayN(i))] = triggered(1500)
	}
	sm, _ := newTestMachine(src)

	out := sm.Run(runDays(25))

	require.Len(t, sm.Incidents(), 1)
	inc := sm.Incidents()[0]
	assert.Equal(t, models.StatusCall, inc.Status, "S4 escalates straight to CALL")
	assert.False(t, inc.Closed)
	assert.Equal(t, models.StatusCall, out[24].Status)
}

// ============================================================================
// TEST SUITE 3: SUPPRESSION AND FREEZING
// ============================================================================

func TestStateMachine_EpisodicFillSuppressed(t *testing.T) {
	src := newFakeSource()
	snap := triggered(300)
	snap.SubScores.BurstBF = 1
	key := models.DayKey(dayN(14))
	src.snaps[key] = snap
	src.next[key] = 5
	sm, caches := newTestMachine(src)

	out := sm.Run(runDays(15))

	assert.Equal(t, models.StatusOK, out[14].Status)
	assert.Equal(t, models.EpisodicFill, out[14].Suppressed)
	assert.Empty(t, sm.Incidents())
	assert.NotContains(t, caches.Confidence, key)
}

func TestStateMachine_UsesFrozenConfidence(t *testing.T) {
	src := newFakeSource()
	key := models.DayKey(dayN(14))
	src.snaps[key] = triggered(300)
	sm, caches := newTestMachine(src)
	caches.Confidence[key] = 12.5

	out := sm.Run(runDays(15))

	assert.Equal(t, 12.5, out[14].Confidence)
	require.Len(t, sm.Incidents(), 1)
	assert.Equal(t, 12.5, sm.Incidents()[0].Confidence)
}

func TestStateMachine_AlertDateTracksGate(t *testing.T) {
	src := newFakeSource()
	src.snaps[models.DayKey(dayN(14))] = triggered(150)
	sm, _ := newTestMachine(src)

	sm.Run(runDays(15))

	inc := sm.Incidents()[0]
	assert.Equal(t, 5, inc.DaysNeeded, "100-200 L/h default gate")
	assert.Equal(t, dayN(18), inc.AlertDate)
}
