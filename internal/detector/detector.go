package detector

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/stats"
)

type metric int

const (
	metricNF metric = iota
	metricA
)

type baselineKey struct {
	day    string
	metric metric
}

type profileKey struct {
	day  string
	hour int
}

// robustBaseline is a median/MAD pair over N values.
type robustBaseline struct {
	Median float64
	MAD    float64
	N      int
}

// Detector runs the scoring and state machine for a single site. It owns the
// site's frozen caches and is not safe for concurrent use.
type Detector struct {
	SiteID string

	cfg      *config.DetectionConfig
	samples  []models.HourlySample
	daily    []models.DailyAggregate
	dayIndex map[string]int
	byDay    map[string][]models.HourlySample
	excluded map[string]struct{}

	baselineCache map[baselineKey]robustBaseline
	profileCache  map[profileKey]robustBaseline

	caches   models.FrozenCaches
	thetaMin float64

	incidents []*models.Incident
	outputs   []models.DailyStatus
}

// New sorts and sanitises readings, checks sampling regularity, then
// preprocesses and baselines the series.
func New(siteID string, readings []models.FlowReading, cfg *config.DetectionConfig, upTo *time.Time) (*Detector, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("%s: %w", siteID, ErrNoData)
	}
	sorted := make([]models.FlowReading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	if err := CheckFrequency(siteID, sorted, cfg); err != nil {
		return nil, err
	}

	samples, err := Preprocess(sorted, upTo)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", siteID, err)
	}
	slog.Info("Preprocessed hourly records", "site_id", siteID, "count", len(samples))

	d := &Detector{
		SiteID:        siteID,
		cfg:           cfg,
		samples:       samples,
		excluded:      cfg.ExcludedDaySet(),
		baselineCache: make(map[baselineKey]robustBaseline),
		profileCache:  make(map[profileKey]robustBaseline),
		caches:        models.NewFrozenCaches(),
	}
	d.baseline()
	return d, nil
}

// baseline rebuilds the daily aggregates and hour index wholesale.
func (d *Detector) baseline() {
	d.daily = BuildDaily(d.samples, d.cfg)
	d.dayIndex = make(map[string]int, len(d.daily))
	for i, agg := range d.daily {
		d.dayIndex[models.DayKey(agg.Date)] = i
	}
	d.byDay = make(map[string][]models.HourlySample, len(d.daily))
	for _, s := range d.samples {
		key := models.DayKey(s.Day())
		d.byDay[key] = append(d.byDay[key], s)
	}
	d.baselineCache = make(map[baselineKey]robustBaseline)
	d.profileCache = make(map[profileKey]robustBaseline)
	slog.Info("Baselined days", "site_id", d.SiteID, "days", len(d.daily))
}

// Restore loads frozen snapshots from an earlier run. It must be called
// before Run; restored values are never recomputed.
func (d *Detector) Restore(prior models.FrozenCaches) {
	for k, v := range prior.Signals {
		d.caches.Signals[k] = v
	}
	for k, v := range prior.Confidence {
		d.caches.Confidence[k] = v
	}
	slog.Info("Restored frozen snapshots", "site_id", d.SiteID,
		"signals", len(prior.Signals), "confidence", len(prior.Confidence))
}

// Snapshots returns a copy of the frozen caches for carrying into the next replay.
func (d *Detector) Snapshots() models.FrozenCaches {
	return d.caches.Clone()
}

func (d *Detector) Daily() []models.DailyAggregate {
	return d.daily
}

func (d *Detector) Samples() []models.HourlySample {
	return d.samples
}

func (d *Detector) Incidents() []*models.Incident {
	return d.incidents
}

func (d *Detector) DailyOutputs() []models.DailyStatus {
	return d.outputs
}

func (d *Detector) ThetaMin() float64 {
	return d.thetaMin
}

func (d *Detector) Days() []time.Time {
	days := make([]time.Time, len(d.daily))
	for i, agg := range d.daily {
		days[i] = agg.Date
	}
	return days
}

func (d *Detector) aggregate(day time.Time) (models.DailyAggregate, bool) {
	i, ok := d.dayIndex[models.DayKey(day)]
	if !ok {
		return models.DailyAggregate{}, false
	}
	return d.daily[i], true
}

// windowDays reports whether day lies in [d-W, d) and is not excluded.
func (d *Detector) inWindow(candidate, day time.Time) bool {
	start := day.AddDate(0, 0, -d.cfg.BaselineWindowDays)
	if candidate.Before(start) || !candidate.Before(day) {
		return false
	}
	_, skip := d.excluded[models.DayKey(candidate)]
	return !skip
}

// rollingBaseline is the median/MAD of a daily metric over the trailing window.
func (d *Detector) rollingBaseline(day time.Time, m metric) robustBaseline {
	key := baselineKey{day: models.DayKey(day), metric: m}
	if b, ok := d.baselineCache[key]; ok {
		return b
	}
	values := make([]float64, 0, d.cfg.BaselineWindowDays)
	for _, agg := range d.daily {
		if !d.inWindow(agg.Date, day) {
			continue
		}
		switch m {
		case metricNF:
			if agg.HasNight {
				values = append(values, agg.NF)
			}
		case metricA:
			values = append(values, agg.A)
		}
	}
	b := robustBaseline{Median: stats.Median(values), MAD: stats.MAD(values), N: len(values)}
	d.baselineCache[key] = b
	return b
}

// hourlyProfile is the median/MAD of flow at hour over the trailing window.
func (d *Detector) hourlyProfile(hour int, day time.Time) robustBaseline {
	key := profileKey{day: models.DayKey(day), hour: hour}
	if b, ok := d.profileCache[key]; ok {
		return b
	}
	values := make([]float64, 0, d.cfg.BaselineWindowDays)
	for i := 1; i <= d.cfg.BaselineWindowDays; i++ {
		candidate := day.AddDate(0, 0, -i)
		if !d.inWindow(candidate, day) {
			continue
		}
		for _, s := range d.byDay[models.DayKey(candidate)] {
			if s.Hour() == hour {
				values = append(values, s.Flow)
			}
		}
	}
	b := robustBaseline{Median: stats.Median(values), MAD: stats.MAD(values), N: len(values)}
	d.profileCache[key] = b
	return b
}

// nightFlowHistory returns NF for every day up to and including day.
func (d *Detector) nightFlowHistory(upTo time.Time) []float64 {
	out := make([]float64, 0, len(d.daily))
	for _, agg := range d.daily {
		if agg.Date.After(upTo) {
			break
		}
		if agg.HasNight {
			out = append(out, agg.NF)
		}
	}
	return out
}

// afterHoursHistory returns A for every day up to and including day.
func (d *Detector) afterHoursHistory(upTo time.Time) []float64 {
	out := make([]float64, 0, len(d.daily))
	for _, agg := range d.daily {
		if agg.Date.After(upTo) {
			break
		}
		out = append(out, agg.A)
	}
	return out
}

// AdaptiveThreshold computes theta_min over the site's full night-flow history.
func (d *Detector) AdaptiveThreshold() float64 {
	nf := make([]float64, 0, len(d.daily))
	for _, agg := range d.daily {
		if agg.HasNight {
			nf = append(nf, agg.NF)
		}
	}
	theta := stats.Median(nf) + 2*stats.MAD(nf)
	if theta < d.cfg.AbsFloorLph {
		theta = d.cfg.AbsFloorLph
	}
	d.thetaMin = theta
	slog.Info("Adaptive theta_min", "site_id", d.SiteID, "theta_min_lph", theta)
	return theta
}

// nightDelta is NF minus its rolling baseline median, unclamped.
func (d *Detector) nightDelta(day time.Time) (delta float64, base robustBaseline, ok bool) {
	agg, found := d.aggregate(day)
	if !found {
		return 0, robustBaseline{}, false
	}
	base = d.rollingBaseline(day, metricNF)
	nf := 0.0
	if agg.HasNight {
		nf = agg.NF
	}
	return nf - base.Median, base, true
}

// NextDayDelta returns the following day's raw night-flow delta, if that day exists.
func (d *Detector) NextDayDelta(day time.Time) (float64, bool) {
	delta, _, ok := d.nightDelta(day.AddDate(0, 0, 1))
	return delta, ok
}

// Snapshot returns the frozen signal snapshot for day, computing and
// freezing it on first use.
func (d *Detector) Snapshot(day time.Time) models.SignalSnapshot {
	key := models.DayKey(day)
	if snap, ok := d.caches.Signals[key]; ok {
		slog.Debug("Using cached signals", "site_id", d.SiteID, "date", key, "deltaNF", snap.DeltaNF)
		return snap
	}
	snap := d.ScoreDay(day)
	d.caches.Signals[key] = snap
	slog.Debug("Calculated fresh signals", "site_id", d.SiteID, "date", key, "deltaNF", snap.DeltaNF)
	return snap
}

// Run executes the state machine over every day and returns the daily records.
// Frozen snapshots restored beforehand are reused as-is.
func (d *Detector) Run() []models.DailyStatus {
	if len(d.daily) == 0 {
		return nil
	}
	theta := d.AdaptiveThreshold()
	sm := NewStateMachine(d.SiteID, d.cfg, theta, d, &d.caches)
	d.outputs = sm.Run(d.Days())
	d.incidents = sm.Incidents()
	for _, inc := range d.incidents {
		d.categorize(inc)
	}
	for _, inc := range d.incidents {
		slog.Info("State machine incident", "site_id", d.SiteID,
			"start_day", models.DayKey(inc.StartDay), "last_day", models.DayKey(inc.LastDay),
			"status", inc.Status, "signal_components", len(inc.SignalComponentsByDate))
	}
	return d.outputs
}

// incidentFlows returns hourly flows over the incident's calendar span.
func (d *Detector) incidentFlows(inc *models.Incident) []float64 {
	flows := make([]float64, 0, 24*(inc.DaysPersisted+1))
	for day := inc.StartDay; !day.After(inc.LastDay); day = day.AddDate(0, 0, 1) {
		for _, s := range d.byDay[models.DayKey(day)] {
			flows = append(flows, s.Flow)
		}
	}
	return flows
}

func (d *Detector) categorize(inc *models.Incident) {
	baseline := d.thetaMin
	if baseline == 0 {
		baseline = d.cfg.AbsFloorLph
	}
	flows := d.incidentFlows(inc)
	inc.Category, inc.CategoryDescription = CategorizeLeak(stats.Mean(flows), stats.SampleStdDev(flows), baseline)
}
