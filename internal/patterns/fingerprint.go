package patterns

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

const activeSignalThreshold = 0.1

// Candidate field names checked in priority order when normalising loose incident maps.
var (
	subScoreFields = []string{"subscores_ui", "subscores"}
	mnfFields      = []string{"mnf_at_confirm_Lph", "avg_mnf_Lph", "mnf_Lph", "mnf", "MNF"}
	avgFlowFields  = []string{"avg_flow_Lph", "avg_flow_rate", "mean_flow", "flow_rate"}
	peakFlowFields = []string{"peak_flow_Lph", "max_flow", "peak_flow"}
	startDayFields = []string{"start_day", "start_time"}
)

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func ptr(v float64) *float64 {
	return &v
}

// BuildSignalFingerprint extracts the signal and flow summary from an incident.
func BuildSignalFingerprint(inc models.PatternIncident) models.SignalFingerprint {
	fp := models.SignalFingerprint{
		SignalsActive: []string{},
		SignalScores:  map[string]float64{},
	}

	names := make([]string, 0, len(inc.SubScores))
	for name := range inc.SubScores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		score := inc.SubScores[name]
		if score > activeSignalThreshold {
			fp.SignalsActive = append(fp.SignalsActive, name)
			fp.SignalScores[name] = round(score, 2)
		}
	}

	if inc.MNFLph != nil && *inc.MNFLph != 0 {
		mnf := *inc.MNFLph
		fp.MNFValueLph = ptr(round(mnf, 2))
		fp.MNFRange = []float64{round(mnf*0.7, 2), round(mnf*1.3, 2)}
	}
	if inc.AvgFlowLph != nil && *inc.AvgFlowLph != 0 {
		fp.AvgFlowRateLph = ptr(round(*inc.AvgFlowLph, 2))
	}
	if inc.PeakFlowLph != nil && *inc.PeakFlowLph != 0 {
		fp.PeakFlowRateLph = ptr(round(*inc.PeakFlowLph, 2))
	}
	if inc.VolumeKL != nil && *inc.VolumeKL != 0 {
		vol := *inc.VolumeKL
		fp.VolumeKL = ptr(round(vol, 2))
		fp.VolumeRange = []float64{round(vol*0.5, 2), round(vol*1.5, 2)}
	}
	if inc.DurationHours != nil && *inc.DurationHours != 0 {
		dur := *inc.DurationHours
		fp.DurationHours = ptr(round(dur, 2))
		fp.DurationRange = []float64{math.Max(0, round(dur-6, 2)), round(dur+6, 2)}
	}
	return fp
}

// Weekday converts Go's Sunday-first weekday into 0=Monday .. 6=Sunday.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// BuildTimeFingerprint records the incident's starting weekday.
func BuildTimeFingerprint(inc models.PatternIncident) models.TimeFingerprint {
	fp := models.TimeFingerprint{DaysOfWeek: []int{}}
	if !inc.StartDay.IsZero() {
		fp.DaysOfWeek = []int{Weekday(inc.StartDay)}
	}
	return fp
}

// PatternID is the uppercase 12-character md5 of site, category and the
// fingerprint rendered as Python's json.dumps(fp, sort_keys=True) would, so
// ids stay stable for pattern tables already keyed by them.
func PatternID(siteID, category string, fp models.SignalFingerprint) (string, error) {
	for _, v := range fp.SignalScores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("failed to encode fingerprint: invalid signal score %v", v)
		}
	}
	sum := md5.Sum([]byte(siteID + "_" + category + "_" + canonicalFingerprint(fp)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:12], nil
}

func canonicalFingerprint(fp models.SignalFingerprint) string {
	durationRange := "null"
	if fp.DurationRange != nil {
		// max(0, x) keeps the int 0 when the lower bound clamps
		parts := make([]string, len(fp.DurationRange))
		for i, v := range fp.DurationRange {
			parts[i] = pyFloat(v)
			if i == 0 && v <= 0 {
				parts[i] = "0"
			}
		}
		durationRange = "[" + strings.Join(parts, ", ") + "]"
	}

	active := fp.SignalsActive
	if active == nil {
		active = []string{}
	}
	activeParts := make([]string, len(active))
	for i, name := range active {
		activeParts[i] = pyString(name)
	}

	scoreKeys := make([]string, 0, len(fp.SignalScores))
	for k := range fp.SignalScores {
		scoreKeys = append(scoreKeys, k)
	}
	sort.Strings(scoreKeys)
	scoreParts := make([]string, len(scoreKeys))
	for i, k := range scoreKeys {
		scoreParts[i] = pyString(k) + ": " + pyFloat(fp.SignalScores[k])
	}

	fields := map[string]string{
		"avg_flow_rate_Lph":  pyFloatPtr(fp.AvgFlowRateLph),
		"duration_hours":     pyFloatPtr(fp.DurationHours),
		"duration_range":     durationRange,
		"mnf_range":          pyFloats(fp.MNFRange),
		"mnf_value_Lph":      pyFloatPtr(fp.MNFValueLph),
		"peak_flow_rate_Lph": pyFloatPtr(fp.PeakFlowRateLph),
		"signal_scores":      "{" + strings.Join(scoreParts, ", ") + "}",
		"signals_active":     "[" + strings.Join(activeParts, ", ") + "]",
		"volume_kL":          pyFloatPtr(fp.VolumeKL),
		"volume_range":       pyFloats(fp.VolumeRange),
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = pyString(k) + ": " + fields[k]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// pyFloat formats v like Python's float repr.
func pyFloat(v float64) string {
	if v == 0 {
		if math.Signbit(v) {
			return "-0.0"
		}
		return "0.0"
	}
	abs := math.Abs(v)
	if abs >= 1e16 || abs < 1e-4 {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func pyFloatPtr(v *float64) string {
	if v == nil {
		return "null"
	}
	return pyFloat(*v)
}

func pyFloats(vs []float64) string {
	if vs == nil {
		return "null"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = pyFloat(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// pyString quotes s with ensure_ascii escaping.
func pyString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r > 0x7e && r <= 0xffff):
				fmt.Fprintf(&b, `\u%04x`, r)
			case r > 0xffff:
				r -= 0x10000
				fmt.Fprintf(&b, `\u%04x\u%04x`, 0xd800+(r>>10), 0xdc00+(r&0x3ff))
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// NormalizePatternIncident builds a PatternIncident from a loosely shaped map,
// trying the known field-name variants in priority order.
func NormalizePatternIncident(raw map[string]any) models.PatternIncident {
	inc := models.PatternIncident{SubScores: map[string]float64{}}
	if v, ok := raw["event_id"].(string); ok {
		inc.EventID = v
	}
	if v, ok := raw["site_id"].(string); ok {
		inc.SiteID = v
	}
	for _, field := range startDayFields {
		if t, ok := asTime(raw[field]); ok {
			inc.StartDay = t
			break
		}
	}
	for _, field := range subScoreFields {
		if m, ok := raw[field].(map[string]any); ok && len(m) > 0 {
			for name, v := range m {
				if f, ok := asFloat(v); ok {
					inc.SubScores[name] = f
				}
			}
			break
		}
	}
	inc.MNFLph = firstFloat(raw, mnfFields)
	inc.AvgFlowLph = firstFloat(raw, avgFlowFields)
	inc.PeakFlowLph = firstFloat(raw, peakFlowFields)
	inc.VolumeKL = firstFloat(raw, []string{"volume_kL"})
	inc.DurationHours = firstFloat(raw, []string{"duration_hours"})
	return inc
}

// firstFloat returns the first present, non-zero numeric field.
func firstFloat(raw map[string]any, fields []string) *float64 {
	for _, field := range fields {
		if f, ok := asFloat(raw[field]); ok && f != 0 {
			return ptr(f)
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", models.DateLayout} {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
