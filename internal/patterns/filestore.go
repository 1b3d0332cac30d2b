package patterns

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

// patternColumns is the flat table header. Nested fields are JSON-encoded.
var patternColumns = []string{
	"pattern_id",
	"site_id",
	"category",
	"description",
	"signal_fingerprint",
	"time_fingerprint",
	"recurrence_rule",
	"auto_suppress",
	"confidence",
	"times_matched",
	"times_confirmed_false",
	"times_was_real_leak",
	"created_at",
	"created_by",
	"last_matched_at",
	"last_updated_at",
	"is_active",
	"notes",
	"season_tags",
	"baseline_term_usage_kL",
	"baseline_holiday_usage_kL",
	"mnf_tolerance_factor",
	"decay_periods_applied",
}

// FileStore keeps the pattern library in one CSV file. A mutex serialises
// every read-modify-write cycle and writes go through a temp file rename.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) ([]models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(), nil
}

func (s *FileStore) Mutate(ctx context.Context, fn func([]models.Pattern) ([]models.Pattern, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	updated, err := fn(s.read())
	if err != nil {
		return err
	}
	return s.write(updated)
}

// read falls back to an empty table when the file is missing or corrupt.
func (s *FileStore) read() []models.Pattern {
	f, err := os.Open(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("Error opening patterns file", "path", s.path, "error", err)
		}
		return []models.Pattern{}
	}
	defer f.Close()

	patterns, err := decodePatterns(f)
	if err != nil {
		slog.Error("Error loading patterns file", "path", s.path, "error", err)
		return []models.Pattern{}
	}
	return patterns
}

func (s *FileStore) write(patterns []models.Pattern) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create patterns dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".patterns-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp patterns file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encodePatterns(tmp, patterns); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp patterns file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace patterns file: %w", err)
	}
	slog.Info("Saved patterns", "count", len(patterns), "path", s.path)
	return nil
}

// ============================================================================
// CSV CODEC
// ============================================================================

func encodePatterns(w io.Writer, patterns []models.Pattern) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(patternColumns); err != nil {
		return fmt.Errorf("failed to write patterns header: %w", err)
	}
	for i := range patterns {
		row, err := patternRow(&patterns[i])
		if err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write pattern %s: %w", patterns[i].PatternID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func patternRow(p *models.Pattern) ([]string, error) {
	sig, err := json.Marshal(p.SignalFingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signal fingerprint: %w", err)
	}
	tfp, err := json.Marshal(p.TimeFingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal time fingerprint: %w", err)
	}
	rule, err := json.Marshal(p.RecurrenceRule)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recurrence rule: %w", err)
	}
	tags := p.SeasonTags
	if tags == nil {
		tags = []models.Season{}
	}
	seasons, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal season tags: %w", err)
	}

	return []string{
		p.PatternID,
		p.SiteID,
		p.Category,
		p.Description,
		string(sig),
		string(tfp),
		string(rule),
		strconv.FormatBool(p.AutoSuppress),
		strconv.FormatFloat(p.Confidence, 'f', -1, 64),
		strconv.Itoa(p.TimesMatched),
		strconv.Itoa(p.TimesConfirmedFalse),
		strconv.Itoa(p.TimesWasRealLeak),
		p.CreatedAt.Format(time.RFC3339Nano),
		p.CreatedBy,
		formatTimePtr(p.LastMatchedAt),
		formatTimePtr(p.LastUpdatedAt),
		strconv.FormatBool(p.IsActive),
		p.Notes,
		string(seasons),
		formatFloatPtr(p.BaselineTermUsageKL),
		formatFloatPtr(p.BaselineHolidayUsageKL),
		formatFloatPtr(p.MNFToleranceFactor),
		strconv.Itoa(p.DecayPeriodsApplied),
	}, nil
}

func decodePatterns(r io.Reader) ([]models.Pattern, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []models.Pattern{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	if _, ok := col["pattern_id"]; !ok {
		return nil, fmt.Errorf("missing pattern_id column")
	}

	var out []models.Pattern
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p, err := parsePatternRow(rec, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	if out == nil {
		out = []models.Pattern{}
	}
	return out, nil
}

func parsePatternRow(rec []string, col map[string]int) (models.Pattern, error) {
	get := func(name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}
	var p models.Pattern
	var err error

	p.PatternID = get("pattern_id")
	p.SiteID = get("site_id")
	p.Category = get("category")
	p.Description = get("description")
	p.CreatedBy = get("created_by")
	p.Notes = get("notes")

	if err = decodeJSONField(get("signal_fingerprint"), &p.SignalFingerprint); err != nil {
		return p, fmt.Errorf("signal_fingerprint: %w", err)
	}
	if err = decodeJSONField(get("time_fingerprint"), &p.TimeFingerprint); err != nil {
		return p, fmt.Errorf("time_fingerprint: %w", err)
	}
	if err = decodeJSONField(get("recurrence_rule"), &p.RecurrenceRule); err != nil {
		return p, fmt.Errorf("recurrence_rule: %w", err)
	}
	if err = decodeJSONField(get("season_tags"), &p.SeasonTags); err != nil {
		return p, fmt.Errorf("season_tags: %w", err)
	}

	if p.AutoSuppress, err = parseBool(get("auto_suppress")); err != nil {
		return p, fmt.Errorf("auto_suppress: %w", err)
	}
	if p.IsActive, err = parseBool(get("is_active")); err != nil {
		return p, fmt.Errorf("is_active: %w", err)
	}
	if p.Confidence, err = parseFloat(get("confidence")); err != nil {
		return p, fmt.Errorf("confidence: %w", err)
	}
	if p.TimesMatched, err = parseInt(get("times_matched")); err != nil {
		return p, fmt.Errorf("times_matched: %w", err)
	}
	if p.TimesConfirmedFalse, err = parseInt(get("times_confirmed_false")); err != nil {
		return p, fmt.Errorf("times_confirmed_false: %w", err)
	}
	if p.TimesWasRealLeak, err = parseInt(get("times_was_real_leak")); err != nil {
		return p, fmt.Errorf("times_was_real_leak: %w", err)
	}
	if p.DecayPeriodsApplied, err = parseInt(get("decay_periods_applied")); err != nil {
		return p, fmt.Errorf("decay_periods_applied: %w", err)
	}

	if v := get("created_at"); v != "" {
		if p.CreatedAt, err = parseTimestamp(v); err != nil {
			return p, fmt.Errorf("created_at: %w", err)
		}
	}
	if p.LastMatchedAt, err = parseTimePtr(get("last_matched_at")); err != nil {
		return p, fmt.Errorf("last_matched_at: %w", err)
	}
	if p.LastUpdatedAt, err = parseTimePtr(get("last_updated_at")); err != nil {
		return p, fmt.Errorf("last_updated_at: %w", err)
	}
	if p.BaselineTermUsageKL, err = parseFloatPtr(get("baseline_term_usage_kL")); err != nil {
		return p, fmt.Errorf("baseline_term_usage_kL: %w", err)
	}
	if p.BaselineHolidayUsageKL, err = parseFloatPtr(get("baseline_holiday_usage_kL")); err != nil {
		return p, fmt.Errorf("baseline_holiday_usage_kL: %w", err)
	}
	if p.MNFToleranceFactor, err = parseFloatPtr(get("mnf_tolerance_factor")); err != nil {
		return p, fmt.Errorf("mnf_tolerance_factor: %w", err)
	}
	return p, nil
}

func decodeJSONField(v string, out any) error {
	if v == "" {
		return nil
	}
	return json.Unmarshal([]byte(v), out)
}

func parseBool(v string) (bool, error) {
	switch v {
	case "", "False", "false", "0":
		return false, nil
	case "True", "true", "1":
		return true, nil
	}
	return strconv.ParseBool(v)
}

func parseFloat(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func parseInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	return int(f), err
}

func parseFloatPtr(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func parseTimestamp(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseTimePtr(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := parseTimestamp(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// ============================================================================
// MATCH LOG
// ============================================================================

var matchLogColumns = []string{"id", "timestamp", "incident_id", "pattern_id", "match_score", "action_taken", "site_id"}

// CSVMatchLog appends match audit rows to a CSV file.
type CSVMatchLog struct {
	path string
	mu   sync.Mutex
}

func NewCSVMatchLog(path string) *CSVMatchLog {
	return &CSVMatchLog{path: path}
}

func (l *CSVMatchLog) Append(ctx context.Context, entry models.MatchLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, statErr := os.Stat(l.path)
	writeHeader := errors.Is(statErr, os.ErrNotExist)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create match log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open match log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(matchLogColumns); err != nil {
			return fmt.Errorf("failed to write match log header: %w", err)
		}
	}
	err = cw.Write([]string{
		entry.ID.String(),
		entry.Timestamp.Format(time.RFC3339Nano),
		entry.IncidentID,
		entry.PatternID,
		strconv.FormatFloat(entry.MatchScore, 'f', -1, 64),
		string(entry.ActionTaken),
		entry.SiteID,
	})
	if err != nil {
		return fmt.Errorf("failed to write match log row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// List returns up to limit most recent entries, newest first. Empty siteID matches all.
func (l *CSVMatchLog) List(ctx context.Context, siteID string, limit int) ([]models.MatchLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.MatchLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open match log: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read match log: %w", err)
	}
	out := []models.MatchLogEntry{}
	for i := len(rows) - 1; i >= 1; i-- {
		row := rows[i]
		if len(row) < len(matchLogColumns) {
			continue
		}
		if siteID != "" && row[6] != siteID {
			continue
		}
		entry := models.MatchLogEntry{
			IncidentID:  row[2],
			PatternID:   row[3],
			ActionTaken: models.MatchAction(row[5]),
			SiteID:      row[6],
		}
		entry.ID, _ = uuid.Parse(row[0])
		entry.Timestamp, _ = parseTimestamp(row[1])
		entry.MatchScore, _ = strconv.ParseFloat(row[4], 64)
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
