package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/metrics"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/patterns"
)

// PatternService exposes the false-alarm library to handlers and the scheduler.
// Night-flow history for tolerance estimation comes from the latest replay.
type PatternService struct {
	engine  *patterns.Engine
	replay  *ReplayService
	metrics *metrics.Metrics
}

func NewPatternService(engine *patterns.Engine, replay *ReplayService, m *metrics.Metrics) *PatternService {
	return &PatternService{engine: engine, replay: replay, metrics: m}
}

type PatternWithSummary struct {
	models.Pattern
	Summary         string `json:"summary"`
	CategoryDisplay string `json:"category_display"`
}

func withSummaries(list []models.Pattern) []PatternWithSummary {
	out := make([]PatternWithSummary, len(list))
	for i := range list {
		out[i] = PatternWithSummary{
			Pattern:         list[i],
			Summary:         patterns.Summary(&list[i]),
			CategoryDisplay: patterns.CategoryDisplayName(list[i].Category),
		}
	}
	return out
}

func (s *PatternService) List(ctx context.Context) ([]PatternWithSummary, error) {
	list, err := s.engine.Patterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	return withSummaries(list), nil
}

func (s *PatternService) ListBySite(ctx context.Context, siteID string) ([]PatternWithSummary, error) {
	list, err := s.engine.SitePatterns(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list site patterns: %w", err)
	}
	return withSummaries(list), nil
}

func (s *PatternService) Record(ctx context.Context, req patterns.FalseAlarmRequest) (models.RecordResult, error) {
	if req.SiteID == "" {
		return models.RecordResult{}, fmt.Errorf("%w: site_id is required", ErrValidation)
	}
	if req.Category == "" {
		return models.RecordResult{}, fmt.Errorf("%w: category is required", ErrValidation)
	}
	return s.engine.RecordFalseAlarm(ctx, req)
}

func (s *PatternService) Match(ctx context.Context, inc models.PatternIncident, siteID string) ([]models.PatternMatch, error) {
	return s.engine.Match(ctx, inc, siteID)
}

func (s *PatternService) MatchHistory(ctx context.Context, siteID string, limit int) ([]models.MatchLogEntry, error) {
	return s.engine.MatchHistory(ctx, siteID, limit)
}

func (s *PatternService) Get(ctx context.Context, id string) (*models.Pattern, error) {
	return s.engine.Get(ctx, id)
}

func (s *PatternService) ConfirmFalse(ctx context.Context, id string) (*models.Pattern, error) {
	return s.engine.ConfirmFalse(ctx, id)
}

func (s *PatternService) ReportRealLeak(ctx context.Context, id string) (*models.Pattern, error) {
	return s.engine.ReportRealLeak(ctx, id)
}

func (s *PatternService) ToggleActive(ctx context.Context, id string) (*models.Pattern, error) {
	return s.engine.ToggleActive(ctx, id)
}

func (s *PatternService) ToggleAutoSuppress(ctx context.Context, id string) (*models.Pattern, error) {
	return s.engine.ToggleAutoSuppress(ctx, id)
}

func (s *PatternService) SetSeasonTags(ctx context.Context, id string, tags []string) (*models.Pattern, error) {
	return s.engine.SetSeasonTags(ctx, id, tags)
}

func (s *PatternService) SetBaselineUsage(ctx context.Context, id string, termKL, holidayKL float64) (*models.Pattern, error) {
	if termKL < 0 || holidayKL < 0 {
		return nil, fmt.Errorf("%w: baseline usage must be non-negative", ErrValidation)
	}
	return s.engine.SetBaselineUsage(ctx, id, termKL, holidayKL)
}

// SetTolerance stores an explicit tolerance, or derives one from the site's
// latest night-flow history when tolerance is nil.
func (s *PatternService) SetTolerance(ctx context.Context, id string, tolerance *float64) (*models.Pattern, error) {
	if tolerance != nil && (*tolerance <= 0 || *tolerance > 1) {
		return nil, fmt.Errorf("%w: tolerance must be in (0, 1]", ErrValidation)
	}
	var history []float64
	if tolerance == nil {
		p, err := s.engine.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		history = s.history(p.SiteID)
	}
	return s.engine.SetTolerance(ctx, id, tolerance, history)
}

// RecalculateTolerances recomputes every replayed site; with no replay yet
// it falls back to the library's own sites.
func (s *PatternService) RecalculateTolerances(ctx context.Context) (map[string]float64, error) {
	var histories map[string][]float64
	if s.replay != nil {
		if h := s.replay.NightFlowHistories(); len(h) > 0 {
			histories = h
		}
	}
	return s.engine.RecalculateSiteTolerances(ctx, histories)
}

func (s *PatternService) Delete(ctx context.Context, id string) error {
	return s.engine.Delete(ctx, id)
}

// Cleanup runs staleness maintenance and refreshes the active-pattern gauge.
func (s *PatternService) Cleanup(ctx context.Context) (models.CleanupStats, error) {
	st, err := s.engine.Cleanup(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to clean up patterns: %w", err)
	}
	if list, err := s.engine.Patterns(ctx); err == nil {
		active := 0
		for _, p := range list {
			if p.IsActive {
				active++
			}
		}
		s.metrics.ActivePatterns(active)
	}
	slog.Info("Pattern cleanup finished", "deactivated", st.Deactivated, "decayed", st.Decayed, "unchanged", st.Unchanged)
	return st, nil
}

func (s *PatternService) history(siteID string) []float64 {
	if s.replay == nil {
		return nil
	}
	return s.replay.NightFlowHistories()[siteID]
}
