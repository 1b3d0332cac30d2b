package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/detector"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/event"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/metrics"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/patterns"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/worker"
)

var (
	ErrSiteFailed      = errors.New("site replay failed")
	ErrInvalidTask     = errors.New("invalid site task")
	ErrSiteNotReplayed = errors.New("site has no replay result")
	ErrValidation      = errors.New("validation error")
)

// SiteTask is one site's input to a replay.
type SiteTask struct {
	SiteID   string               `json:"site_id"`
	Readings []models.FlowReading `json:"readings"`
	UpTo     *time.Time           `json:"up_to,omitempty"`
}

// SiteResult is everything a replay produced for one site.
type SiteResult struct {
	SiteID     string                  `json:"site_id"`
	Daily      []models.DailyStatus    `json:"daily"`
	Incidents  []models.IncidentRecord `json:"incidents"`
	Suppressed int                     `json:"suppressed"`
	ThetaMin   float64                 `json:"theta_min"`

	nightFlow []float64
	det       *detector.Detector
}

type SkippedSite struct {
	SiteID string `json:"site_id"`
	Reason string `json:"reason"`
}

type ReplayReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Processed  []string      `json:"processed"`
	Skipped    []SkippedSite `json:"skipped"`
	Incidents  int           `json:"incidents"`
	Suppressed int           `json:"suppressed"`
}

// SnapshotStore carries frozen caches between replays. Save must only add dates.
type SnapshotStore interface {
	Load(ctx context.Context, siteID string) (models.FrozenCaches, error)
	Save(ctx context.Context, siteID string, caches models.FrozenCaches) error
}

// IncidentSink persists a site's canonical output.
type IncidentSink interface {
	SaveSiteResult(ctx context.Context, siteID string, incidents []models.IncidentRecord, daily []models.DailyStatus) error
}

type Publisher interface {
	Publish(ctx context.Context, evt event.IncidentEvent) error
}

// ReplayService fans a replay out over one detector per site and keeps the
// latest result of each site in memory.
type ReplayService struct {
	cfg        *config.DetectionConfig
	engine     *patterns.Engine
	snapshots  SnapshotStore
	sink       IncidentSink
	publisher  Publisher
	exporter   *ExportService
	metrics    *metrics.Metrics
	numWorkers int
	now        func() time.Time

	mu     sync.RWMutex
	latest map[string]*SiteResult
	// suppressedBy maps event ids suppressed in earlier runs to their pattern.
	suppressedBy map[string]string
}

func NewReplayService(cfg *config.DetectionConfig, engine *patterns.Engine, snapshots SnapshotStore, numWorkers int) *ReplayService {
	if numWorkers <= 0 {
		numWorkers = worker.DefaultWorkers()
	}
	return &ReplayService{
		cfg:        cfg,
		engine:     engine,
		snapshots:  snapshots,
		numWorkers: numWorkers,
		now:        time.Now,
		latest:     make(map[string]*SiteResult),

		suppressedBy: make(map[string]string),
	}
}

func (s *ReplayService) WithSink(sink IncidentSink) *ReplayService {
	s.sink = sink
	return s
}

func (s *ReplayService) WithPublisher(p Publisher) *ReplayService {
	s.publisher = p
	return s
}

func (s *ReplayService) WithExporter(e *ExportService) *ReplayService {
	s.exporter = e
	return s
}

func (s *ReplayService) WithMetrics(m *metrics.Metrics) *ReplayService {
	s.metrics = m
	return s
}

func (s *ReplayService) WithClock(now func() time.Time) *ReplayService {
	s.now = now
	return s
}

func validateTasks(tasks []SiteTask) error {
	if len(tasks) == 0 {
		return fmt.Errorf("%w: no sites supplied", ErrInvalidTask)
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.SiteID == "" {
			return fmt.Errorf("%w: empty site_id", ErrInvalidTask)
		}
		if _, dup := seen[t.SiteID]; dup {
			return fmt.Errorf("%w: duplicate site_id %s", ErrInvalidTask, t.SiteID)
		}
		seen[t.SiteID] = struct{}{}
	}
	return nil
}

// Replay runs every site task on the worker pool. A failing site is logged,
// reported as skipped and never affects its siblings.
func (s *ReplayService) Replay(ctx context.Context, tasks []SiteTask) (*ReplayReport, error) {
	if err := validateTasks(tasks); err != nil {
		return nil, err
	}
	start := time.Now()
	report := &ReplayReport{
		RunID:     uuid.New().String(),
		StartedAt: s.now(),
		Processed: []string{},
		Skipped:   []SkippedSite{},
	}
	slog.Info("Starting replay", "run_id", report.RunID, "sites", len(tasks), "workers", s.numWorkers)

	results := make([]*SiteResult, len(tasks))
	jobs := make([]worker.Job, len(tasks))
	for i, task := range tasks {
		jobs[i] = func(ctx context.Context) error {
			res, err := s.replaySite(ctx, report.RunID, task)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		}
	}
	errs := worker.FanOut(ctx, s.numWorkers, jobs)

	done := make([]*SiteResult, 0, len(tasks))
	for i, err := range errs {
		siteID := tasks[i].SiteID
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", ErrSiteFailed, siteID, err)
			slog.Error("Skipped site", "run_id", report.RunID, "site_id", siteID, "error", err)
			report.Skipped = append(report.Skipped, SkippedSite{SiteID: siteID, Reason: err.Error()})
			s.metrics.SiteFailed()
			continue
		}
		res := results[i]
		done = append(done, res)
		report.Processed = append(report.Processed, siteID)
		report.Incidents += len(res.Incidents)
		report.Suppressed += res.Suppressed
		s.metrics.SiteProcessed()
	}

	s.mu.Lock()
	for _, res := range done {
		s.latest[res.SiteID] = res
	}
	s.mu.Unlock()

	if s.exporter != nil && len(done) > 0 {
		if err := s.exporter.Export(ctx, report.RunID, done); err != nil {
			slog.Error("Failed to export replay results", "run_id", report.RunID, "error", err)
		}
	}

	report.FinishedAt = s.now()
	s.metrics.ReplayFinished(time.Since(start))
	slog.Info("Replay finished", "run_id", report.RunID,
		"processed", len(report.Processed), "skipped", len(report.Skipped),
		"incidents", report.Incidents, "suppressed", report.Suppressed, "duration", time.Since(start))
	return report, nil
}

func (s *ReplayService) replaySite(ctx context.Context, runID string, task SiteTask) (*SiteResult, error) {
	prior, err := s.snapshots.Load(ctx, task.SiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to restore snapshots: %w", err)
	}

	det, err := detector.New(task.SiteID, task.Readings, s.cfg, task.UpTo)
	if err != nil {
		return nil, err
	}
	det.Restore(prior)
	daily := det.Run()

	res := &SiteResult{
		SiteID:    task.SiteID,
		Daily:     daily,
		Incidents: make([]models.IncidentRecord, 0, len(det.Incidents())),
		ThetaMin:  det.ThetaMin(),
		nightFlow: det.NightFlowHistory(),
		det:       det,
	}
	for _, inc := range det.Incidents() {
		suppressed, err := s.checkPatterns(ctx, det, inc)
		if err != nil {
			return nil, err
		}
		if suppressed {
			res.Suppressed++
		}
		rec := detector.CanonicalizeIncident(inc)
		res.Incidents = append(res.Incidents, rec)
		s.metrics.Incident(rec.Status)
	}

	if err := s.snapshots.Save(ctx, task.SiteID, det.Snapshots()); err != nil {
		return nil, fmt.Errorf("failed to freeze snapshots: %w", err)
	}
	if s.sink != nil {
		if err := s.sink.SaveSiteResult(ctx, task.SiteID, res.Incidents, res.Daily); err != nil {
			return nil, fmt.Errorf("failed to persist site result: %w", err)
		}
	}
	s.publish(ctx, runID, res.Incidents)

	slog.Info("Processed site", "run_id", runID, "site_id", task.SiteID,
		"days", len(daily), "incidents", len(res.Incidents), "suppressed", res.Suppressed)
	return res, nil
}

// checkPatterns closes inc when a false-alarm pattern auto-suppresses it, and
// logs a flagged match when the best strong match does not.
func (s *ReplayService) checkPatterns(ctx context.Context, det *detector.Detector, inc *models.Incident) (bool, error) {
	if s.engine == nil {
		return false, nil
	}
	view := det.PatternIncident(inc)
	if patternID, ok := s.priorSuppression(view.EventID); ok {
		// already counted against the pattern when it was first suppressed
		markSuppressed(inc, patternID)
		return true, nil
	}
	suppressed, match, err := s.engine.ShouldSuppress(ctx, view, inc.SiteID)
	if err != nil {
		return false, err
	}
	if suppressed {
		markSuppressed(inc, match.PatternID)
		s.mu.Lock()
		s.suppressedBy[view.EventID] = match.PatternID
		s.mu.Unlock()
		s.metrics.Suppressed()
		return true, nil
	}

	matches, err := s.engine.Match(ctx, view, inc.SiteID)
	if err != nil {
		return false, err
	}
	if len(matches) > 0 && matches[0].IsStrongMatch {
		if err := s.engine.LogMatch(ctx, view.EventID, matches[0].PatternID, matches[0].FinalScore, models.MatchFlagged, inc.SiteID); err != nil {
			slog.Error("Failed to log pattern match", "pattern_id", matches[0].PatternID, "error", err)
		}
	}
	return false, nil
}

func (s *ReplayService) priorSuppression(eventID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	patternID, ok := s.suppressedBy[eventID]
	return patternID, ok
}

func markSuppressed(inc *models.Incident, patternID string) {
	inc.SuppressedBy = patternID
	inc.Closed = true
	inc.CloseReason = "suppressed by pattern " + patternID
}

func (s *ReplayService) publish(ctx context.Context, runID string, records []models.IncidentRecord) {
	if s.publisher == nil {
		return
	}
	for _, rec := range records {
		if err := s.publisher.Publish(ctx, event.NewIncidentEvent(runID, rec, s.now())); err != nil {
			slog.Error("Failed to publish incident event", "event_id", rec.EventID, "error", err)
		}
	}
}

// ============================================================================
// LATEST RESULTS
// ============================================================================

func (s *ReplayService) result(siteID string) (*SiteResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.latest[siteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotReplayed, siteID)
	}
	return res, nil
}

func (s *ReplayService) DailyStatus(siteID string) ([]models.DailyStatus, error) {
	res, err := s.result(siteID)
	if err != nil {
		return nil, err
	}
	return res.Daily, nil
}

func (s *ReplayService) Incidents(siteID string) ([]models.IncidentRecord, error) {
	res, err := s.result(siteID)
	if err != nil {
		return nil, err
	}
	return res.Incidents, nil
}

func (s *ReplayService) DiagnoseBurstBF(siteID string, day time.Time) (*detector.BurstDiagnosis, error) {
	res, err := s.result(siteID)
	if err != nil {
		return nil, err
	}
	return res.det.DiagnoseBurstBF(day)
}

// NightFlowHistories returns the observed night flow of every replayed site.
func (s *ReplayService) NightFlowHistories() map[string][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float64, len(s.latest))
	for site, res := range s.latest {
		out[site] = res.nightFlow
	}
	return out
}

func (s *ReplayService) Sites() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sites := make([]string, 0, len(s.latest))
	for site := range s.latest {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	return sites
}
