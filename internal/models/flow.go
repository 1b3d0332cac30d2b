package models

import "time"

// DateLayout is the key format for every per-day map.
const DateLayout = "2006-01-02"

// ============================================================================
// FLOW TIME-SERIES
// ============================================================================

// FlowReading is one raw meter row as delivered by ingestion.
type FlowReading struct {
	Timestamp time.Time `json:"time" db:"reading_time"`
	Flow      float64   `json:"flow" db:"flow"`
}

// HourlySample is a cleaned, hour-aligned reading.
type HourlySample struct {
	Time    time.Time `json:"time"`
	Flow    float64   `json:"flow"`
	Outlier bool      `json:"outlier"`
}

func (h HourlySample) Hour() int {
	return h.Time.Hour()
}

func (h HourlySample) Day() time.Time {
	return TruncateDay(h.Time)
}

// DailyAggregate holds the per-day metrics the signals are built from.
type DailyAggregate struct {
	Date time.Time `json:"date"`
	// NF is the 10th percentile of night-window flow (L/h). Valid only when HasNight.
	NF       float64 `json:"nf_lph"`
	HasNight bool    `json:"has_night"`
	// A is the total after-hours flow in kL.
	A float64 `json:"a_kl"`
}

// TruncateDay drops the clock part of t, keeping its wall-clock calendar date.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats a day for use as a map key.
func DayKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDay parses a DateLayout string into a UTC day.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DaysBetween returns whole days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(TruncateDay(b).Sub(TruncateDay(a)).Hours() / 24)
}
