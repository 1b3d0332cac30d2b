package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/metrics"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/patterns"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/services"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    *struct {
		Count *int `json:"count"`
	} `json:"meta"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func jumpReadings() []models.FlowReading {
	out := make([]models.FlowReading, 0, 35*24)
	for d := 0; d < 35; d++ {
		flow := 50.0
		if d >= 30 {
			flow = 400
		}
		for h := 0; h < 24; h++ {
			out = append(out, models.FlowReading{
				Timestamp: testStart.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour),
				Flow:      flow,
			})
		}
	}
	return out
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	dir := t.TempDir()
	engine := patterns.NewEngine(
		patterns.NewFileStore(filepath.Join(dir, "patterns.csv")),
		patterns.NewCSVMatchLog(filepath.Join(dir, "matches.csv")),
	)
	m := metrics.NewMetrics()
	replay := services.NewReplayService(config.DefaultDetectionConfig(), engine, services.NewMemorySnapshotStore(), 2).WithMetrics(m)

	app := fiber.New()
	NewReplayHandler(replay).Register(app)
	NewPatternHandler(services.NewPatternService(engine, replay, m)).Register(app)
	health := NewHealthHandler(m)
	health.AddCheck("pattern_store", func(context.Context) bool { return true })
	health.Register(app)
	return app
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env
}

// ============================================================================
// TEST SUITE 1: REPLAY ENDPOINTS
// ============================================================================

func TestReplayEndpoints(t *testing.T) {
	app := newTestApp(t)

	status, env := do(t, app, http.MethodPost, "/leak/api/v1/replay", ReplayRequest{
		Sites: []services.SiteTask{{SiteID: "SITE_A", Readings: jumpReadings()}},
	})
	require.Equal(t, http.StatusOK, status)
	var report services.ReplayReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, []string{"SITE_A"}, report.Processed)
	assert.Equal(t, 1, report.Incidents)

	status, env = do(t, app, http.MethodGet, "/leak/api/v1/sites/SITE_A/daily", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, env.Meta.Count)
	assert.Equal(t, 35, *env.Meta.Count)

	status, env = do(t, app, http.MethodGet, "/leak/api/v1/sites/SITE_A/incidents", nil)
	require.Equal(t, http.StatusOK, status)
	var incidents []models.IncidentRecord
	require.NoError(t, json.Unmarshal(env.Data, &incidents))
	require.Len(t, incidents, 1)
	assert.Equal(t, "SITE_A__2024-03-31__2024-04-04", incidents[0].EventID)

	status, env = do(t, app, http.MethodGet, "/leak/api/v1/sites/SITE_A/burstbf/2024-03-31", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"date":"2024-03-31"`)

	status, env = do(t, app, http.MethodGet, "/leak/api/v1/sites/SITE_A/burstbf/2025-01-01", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	status, _ = do(t, app, http.MethodGet, "/leak/api/v1/sites/SITE_A/burstbf/not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReplay_UnknownSite(t *testing.T) {
	app := newTestApp(t)

	status, env := do(t, app, http.MethodGet, "/leak/api/v1/sites/NOPE/incidents", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestReplay_InvalidPayloads(t *testing.T) {
	app := newTestApp(t)

	status, env := do(t, app, http.MethodPost, "/leak/api/v1/replay", ReplayRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)

	status, _ = do(t, app, http.MethodPost, "/leak/api/v1/replay", ReplayRequest{
		Sites: []services.SiteTask{{SiteID: "SITE_A", Readings: jumpReadings()}},
		UpTo:  "yesterday",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	req := httptest.NewRequest(http.MethodPost, "/leak/api/v1/replay", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseCutoff(t *testing.T) {
	upTo, err := parseCutoff("")
	require.NoError(t, err)
	assert.Nil(t, upTo)

	upTo, err = parseCutoff("2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), *upTo)

	upTo, err = parseCutoff("2024-03-10T06:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 6, upTo.Hour())
}

// ============================================================================
// TEST SUITE 2: PATTERN ENDPOINTS
// ============================================================================

func poolFillRequest() patterns.FalseAlarmRequest {
	mnf := 420.0
	return patterns.FalseAlarmRequest{
		SiteID:  "SITE_A",
		EventID: "SITE_A__2024-01-15__2024-01-17",
		Incident: models.PatternIncident{
			SiteID:    "SITE_A",
			StartDay:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			SubScores: map[string]float64{"MNF": 0.9, "AFTERHRS": 0.7},
			MNFLph:    &mnf,
		},
		Category:     "pool_fill",
		Description:  "Summer pool top-up",
		AutoSuppress: true,
		User:         "caretaker",
	}
}

func TestPatternEndpoints_Lifecycle(t *testing.T) {
	app := newTestApp(t)

	status, env := do(t, app, http.MethodPost, "/leak/api/v1/patterns", poolFillRequest())
	require.Equal(t, http.StatusCreated, status)
	var result models.RecordResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, models.RecordCreated, result.Action)
	id := result.PatternID

	status, env = do(t, app, http.MethodGet, "/leak/api/v1/patterns", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, *env.Meta.Count)
	assert.Contains(t, string(env.Data), "Category: Pool Fill")

	status, env = do(t, app, http.MethodGet, "/leak/api/v1/patterns/site/SITE_A", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, *env.Meta.Count)

	req := poolFillRequest()
	status, env = do(t, app, http.MethodPost, "/leak/api/v1/patterns/match", MatchRequest{SiteID: "SITE_A", Incident: req.Incident})
	require.Equal(t, http.StatusOK, status)
	var matches []models.PatternMatch
	require.NoError(t, json.Unmarshal(env.Data, &matches))
	require.NotEmpty(t, matches)
	assert.True(t, matches[0].IsStrongMatch)

	status, env = do(t, app, http.MethodPost, "/leak/api/v1/patterns/"+id+"/toggle-active", nil)
	require.Equal(t, http.StatusOK, status)
	var p models.Pattern
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.False(t, p.IsActive)

	status, env = do(t, app, http.MethodPut, "/leak/api/v1/patterns/"+id+"/season-tags", SeasonTagsRequest{SeasonTags: []string{"summer", "bogus"}})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, []models.Season{models.SeasonSummer}, p.SeasonTags)

	status, env = do(t, app, http.MethodPut, "/leak/api/v1/patterns/"+id+"/baseline-usage", BaselineUsageRequest{TermUsageKL: 12, HolidayUsageKL: 3})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	require.NotNil(t, p.BaselineTermUsageKL)
	assert.Equal(t, 12.0, *p.BaselineTermUsageKL)

	bad := 1.5
	status, env = do(t, app, http.MethodPut, "/leak/api/v1/patterns/"+id+"/tolerance", ToleranceRequest{Tolerance: &bad})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)

	status, _ = do(t, app, http.MethodPost, "/leak/api/v1/patterns/"+id+"/confirm-false", nil)
	assert.Equal(t, http.StatusOK, status)

	// cleanup only counts active patterns
	status, env = do(t, app, http.MethodPost, "/leak/api/v1/patterns/"+id+"/toggle-active", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.True(t, p.IsActive)

	status, env = do(t, app, http.MethodPost, "/leak/api/v1/patterns/cleanup", nil)
	require.Equal(t, http.StatusOK, status)
	var st models.CleanupStats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 1, st.Unchanged)

	status, _ = do(t, app, http.MethodDelete, "/leak/api/v1/patterns/"+id, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = do(t, app, http.MethodGet, "/leak/api/v1/patterns/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestPatternEndpoints_Validation(t *testing.T) {
	app := newTestApp(t)

	req := poolFillRequest()
	req.Category = ""
	status, env := do(t, app, http.MethodPost, "/leak/api/v1/patterns", req)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Error.Message, "category is required")

	status, _ = do(t, app, http.MethodPost, "/leak/api/v1/patterns/missing/report-real-leak", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, app, http.MethodGet, "/leak/api/v1/patterns/matches?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = do(t, app, http.MethodGet, "/leak/api/v1/patterns/matches?site_id=SITE_A", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, *env.Meta.Count)
}

// ============================================================================
// TEST SUITE 3: HEALTH AND METRICS
// ============================================================================

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/checkhealth", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "leak_sites_processed_total")
}

func TestHealth_DegradedBackend(t *testing.T) {
	app := fiber.New()
	health := NewHealthHandler(metrics.NewMetrics())
	health.AddCheck("redis", func(context.Context) bool { return false })
	health.Register(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/checkhealth", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"redis":"down"`)
}
