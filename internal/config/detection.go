package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid detection config")

// Persistence gate bucket keys, by night-flow delta in L/h.
const (
	GateBelow100    = "<100"
	Gate100To200    = "100-200"
	Gate200To1000   = "200-1000"
	GateAtLeast1000 = ">=1000"
)

var requiredGateKeys = []string{GateBelow100, Gate100To200, Gate200To1000, GateAtLeast1000}

var requiredSignalWeights = []string{"MNF", "RESIDUAL", "CUSUM", "AFTERHRS", "BURSTBF"}

var requiredKeys = []string{
	"night_start",
	"night_end",
	"after_hours_start",
	"after_hours_end",
	"baseline_window_days",
	"abs_floor_lph",
	"sustained_after_hours_delta_kl",
	"spike_multiplier",
	"score_weights",
	"persistence_gates",
	"severity_bands_lph",
	"cusum_k",
	"cusum_h",
	"merge_gap_days",
}

type PersistenceGate struct {
	FastMin    int `yaml:"fast_min" json:"fast_min"`
	DefaultMax int `yaml:"default_max" json:"default_max"`
}

// SeverityBand is one [Low, High) night-flow delta range.
type SeverityBand struct {
	Name string
	Low  float64
	High float64
}

type DetectionConfig struct {
	NightStart                 int                        `yaml:"night_start" json:"night_start"`
	NightEnd                   int                        `yaml:"night_end" json:"night_end"`
	AfterHoursStart            int                        `yaml:"after_hours_start" json:"after_hours_start"`
	AfterHoursEnd              int                        `yaml:"after_hours_end" json:"after_hours_end"`
	BaselineWindowDays         int                        `yaml:"baseline_window_days" json:"baseline_window_days"`
	AbsFloorLph                float64                    `yaml:"abs_floor_lph" json:"abs_floor_lph"`
	SustainedAfterHoursDeltaKL float64                    `yaml:"sustained_after_hours_delta_kl" json:"sustained_after_hours_delta_kl"`
	SpikeMultiplier            float64                    `yaml:"spike_multiplier" json:"spike_multiplier"`
	ScoreWeights               map[string]float64         `yaml:"score_weights" json:"score_weights"`
	PersistenceGates           map[string]PersistenceGate `yaml:"persistence_gates" json:"persistence_gates"`
	SeverityBandsLph           map[string][]float64       `yaml:"severity_bands_lph" json:"severity_bands_lph"`
	CUSUMK                     float64                    `yaml:"cusum_k" json:"cusum_k"`
	CUSUMH                     float64                    `yaml:"cusum_h" json:"cusum_h"`
	MergeGapDays               int                        `yaml:"merge_gap_days" json:"merge_gap_days"`

	// Sampling regularity limits, in hours. Optional.
	MaxMedianIntervalHours  float64 `yaml:"max_median_interval_hours" json:"max_median_interval_hours"`
	WarnMedianIntervalHours float64 `yaml:"warn_median_interval_hours" json:"warn_median_interval_hours"`

	// ExcludedDates are YYYY-MM-DD days left out of every rolling baseline.
	ExcludedDates []string `yaml:"excluded_dates" json:"excluded_dates"`

	bands []SeverityBand
}

// LoadDetectionConfig reads and validates the YAML detection config at path.
func LoadDetectionConfig(path string) (*DetectionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read detection config %s: %w", path, err)
	}
	cfg, err := ParseDetectionConfig(data)
	if err != nil {
		return nil, err
	}
	slog.Info("Detection configuration loaded", "path", path,
		"baseline_window_days", cfg.BaselineWindowDays,
		"abs_floor_lph", cfg.AbsFloorLph,
		"merge_gap_days", cfg.MergeGapDays)
	return cfg, nil
}

// ParseDetectionConfig decodes YAML bytes and validates the result.
func ParseDetectionConfig(data []byte) (*DetectionConfig, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: could not parse yaml: %v", ErrInvalidConfig, err)
	}
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			slog.Error("Missing detection config key", "key", key)
			return nil, fmt.Errorf("%w: missing config key: %s", ErrInvalidConfig, key)
		}
	}

	var cfg DetectionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value and applies defaults to the optional keys.
func (c *DetectionConfig) Validate() error {
	if c.NightStart < 0 || c.NightEnd > 24 {
		return fmt.Errorf("%w: night window must lie within 0..24", ErrInvalidConfig)
	}
	if c.NightStart >= c.NightEnd {
		return fmt.Errorf("%w: night_start must be less than night_end", ErrInvalidConfig)
	}
	if c.AfterHoursStart < 0 || c.AfterHoursStart > 23 || c.AfterHoursEnd < 0 || c.AfterHoursEnd > 24 {
		return fmt.Errorf("%w: after-hours window must lie within 0..24", ErrInvalidConfig)
	}
	if c.BaselineWindowDays <= 0 {
		return fmt.Errorf("%w: baseline_window_days must be positive", ErrInvalidConfig)
	}
	if c.AbsFloorLph <= 0 {
		return fmt.Errorf("%w: abs_floor_lph must be positive", ErrInvalidConfig)
	}
	if c.SustainedAfterHoursDeltaKL <= 0 {
		return fmt.Errorf("%w: sustained_after_hours_delta_kl must be positive", ErrInvalidConfig)
	}
	if c.SpikeMultiplier <= 0 {
		return fmt.Errorf("%w: spike_multiplier must be positive", ErrInvalidConfig)
	}
	if err := c.validateWeights(); err != nil {
		return err
	}
	if err := c.validateGates(); err != nil {
		return err
	}
	if err := c.buildBands(); err != nil {
		return err
	}
	if c.CUSUMK < 0 {
		return fmt.Errorf("%w: cusum_k must not be negative", ErrInvalidConfig)
	}
	if c.CUSUMH <= 0 {
		return fmt.Errorf("%w: cusum_h must be positive", ErrInvalidConfig)
	}
	if c.MergeGapDays < 1 {
		return fmt.Errorf("%w: merge_gap_days must be at least 1", ErrInvalidConfig)
	}

	if c.MaxMedianIntervalHours == 0 {
		c.MaxMedianIntervalHours = 2
	}
	if c.WarnMedianIntervalHours == 0 {
		c.WarnMedianIntervalHours = 1.5
	}
	if c.WarnMedianIntervalHours > c.MaxMedianIntervalHours {
		return fmt.Errorf("%w: warn_median_interval_hours must not exceed max_median_interval_hours", ErrInvalidConfig)
	}
	for _, d := range c.ExcludedDates {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("%w: excluded date %q: %v", ErrInvalidConfig, d, err)
		}
	}
	return nil
}

func (c *DetectionConfig) validateWeights() error {
	if len(c.ScoreWeights) != len(requiredSignalWeights) {
		return fmt.Errorf("%w: score_weights must have exactly %v", ErrInvalidConfig, requiredSignalWeights)
	}
	for _, name := range requiredSignalWeights {
		w, ok := c.ScoreWeights[name]
		if !ok {
			return fmt.Errorf("%w: score_weights must have exactly %v", ErrInvalidConfig, requiredSignalWeights)
		}
		if w <= 0 {
			return fmt.Errorf("%w: score weight %s must be positive", ErrInvalidConfig, name)
		}
	}
	return nil
}

func (c *DetectionConfig) validateGates() error {
	for _, key := range requiredGateKeys {
		gate, ok := c.PersistenceGates[key]
		if !ok {
			return fmt.Errorf("%w: persistence_gates missing bucket %q", ErrInvalidConfig, key)
		}
		if gate.FastMin < 1 || gate.DefaultMax < 1 {
			return fmt.Errorf("%w: persistence gate %q needs positive fast_min and default_max", ErrInvalidConfig, key)
		}
	}
	return nil
}

func (c *DetectionConfig) buildBands() error {
	if len(c.SeverityBandsLph) == 0 {
		return fmt.Errorf("%w: severity_bands_lph must not be empty", ErrInvalidConfig)
	}
	bands := make([]SeverityBand, 0, len(c.SeverityBandsLph))
	for name, bounds := range c.SeverityBandsLph {
		if len(bounds) != 2 {
			return fmt.Errorf("%w: severity band %s must be [low, high]", ErrInvalidConfig, name)
		}
		if bounds[0] >= bounds[1] {
			return fmt.Errorf("%w: severity band %s has low >= high", ErrInvalidConfig, name)
		}
		if !strings.HasPrefix(name, "S") {
			return fmt.Errorf("%w: severity band name %s must look like S<n>", ErrInvalidConfig, name)
		}
		if _, err := strconv.Atoi(strings.TrimPrefix(name, "S")); err != nil {
			return fmt.Errorf("%w: severity band name %s must look like S<n>", ErrInvalidConfig, name)
		}
		bands = append(bands, SeverityBand{Name: name, Low: bounds[0], High: bounds[1]})
	}
	sort.Slice(bands, func(i, j int) bool {
		if bands[i].Low == bands[j].Low {
			return bands[i].Name < bands[j].Name
		}
		return bands[i].Low < bands[j].Low
	})
	c.bands = bands
	return nil
}

// SeverityBands returns the bands ordered by lower bound.
func (c *DetectionConfig) SeverityBands() []SeverityBand {
	if c.bands == nil {
		_ = c.buildBands()
	}
	return c.bands
}

// ExcludedDaySet returns the excluded dates keyed by YYYY-MM-DD.
func (c *DetectionConfig) ExcludedDaySet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.ExcludedDates))
	for _, d := range c.ExcludedDates {
		set[d] = struct{}{}
	}
	return set
}

// Weight returns the configured weight for a signal.
func (c *DetectionConfig) Weight(signal string) float64 {
	return c.ScoreWeights[signal]
}

// IsNightHour reports whether hour falls in [night_start, night_end).
func (c *DetectionConfig) IsNightHour(hour int) bool {
	return hour >= c.NightStart && hour < c.NightEnd
}

// IsAfterHours reports whether hour is at/after after_hours_start or before after_hours_end.
func (c *DetectionConfig) IsAfterHours(hour int) bool {
	return hour >= c.AfterHoursStart || hour < c.AfterHoursEnd
}

// DefaultDetectionConfig returns the reference configuration shipped in
// config_leak_detection.yml.
func DefaultDetectionConfig() *DetectionConfig {
	cfg := &DetectionConfig{
		NightStart:                 0,
		NightEnd:                   4,
		AfterHoursStart:            18,
		AfterHoursEnd:              6,
		BaselineWindowDays:         14,
		AbsFloorLph:                20,
		SustainedAfterHoursDeltaKL: 0.5,
		SpikeMultiplier:            3.0,
		ScoreWeights: map[string]float64{
			"MNF":      0.35,
			"RESIDUAL": 0.20,
			"CUSUM":    0.15,
			"AFTERHRS": 0.15,
			"BURSTBF":  0.15,
		},
		PersistenceGates: map[string]PersistenceGate{
			GateBelow100:    {FastMin: 4, DefaultMax: 7},
			Gate100To200:    {FastMin: 3, DefaultMax: 5},
			Gate200To1000:   {FastMin: 2, DefaultMax: 4},
			GateAtLeast1000: {FastMin: 1, DefaultMax: 3},
		},
		SeverityBandsLph: map[string][]float64{
			"S1": {0, 100},
			"S2": {100, 200},
			"S3": {200, 1000},
			"S4": {1000, 5000},
			"S5": {5000, 10000},
		},
		CUSUMK:                  0.5,
		CUSUMH:                  5,
		MergeGapDays:            2,
		MaxMedianIntervalHours:  2,
		WarnMedianIntervalHours: 1.5,
	}
	_ = cfg.buildBands()
	return cfg
}
