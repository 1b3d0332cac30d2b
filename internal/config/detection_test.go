package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
night_start: 0
night_end: 4
after_hours_start: 18
after_hours_end: 6
baseline_window_days: 14
abs_floor_lph: 20
sustained_after_hours_delta_kl: 0.5
spike_multiplier: 3
score_weights: {MNF: 0.35, RESIDUAL: 0.2, CUSUM: 0.15, AFTERHRS: 0.15, BURSTBF: 0.15}
persistence_gates:
  "<100": {fast_min: 4, default_max: 7}
  "100-200": {fast_min: 3, default_max: 5}
  "200-1000": {fast_min: 2, default_max: 4}
  ">=1000": {fast_min: 1, default_max: 3}
severity_bands_lph:
  S3: [200, 1000]
  S1: [0, 100]
  S2: [100, 200]
cusum_k: 0.5
cusum_h: 5
merge_gap_days: 2
`

// ============================================================================
// TEST SUITE 1: LOADING
// ============================================================================

func TestParseDetectionConfig_Valid(t *testing.T) {
	cfg, err := ParseDetectionConfig([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.BaselineWindowDays)
	assert.Equal(t, 2.0, cfg.MaxMedianIntervalHours, "Optional hard limit defaults to 2h")
	assert.Equal(t, 1.5, cfg.WarnMedianIntervalHours, "Optional warn limit defaults to 1.5h")

	bands := cfg.SeverityBands()
	require.Len(t, bands, 3)
	assert.Equal(t, "S1", bands[0].Name, "Bands are ordered by lower bound")
	assert.Equal(t, "S3", bands[2].Name)
}

func TestLoadDetectionConfig_ShippedFile(t *testing.T) {
	cfg, err := LoadDetectionConfig(filepath.Join("..", "..", "config_leak_detection.yml"))
	require.NoError(t, err)
	assert.Len(t, cfg.SeverityBands(), 5)
}

func TestLoadDetectionConfig_MissingFile(t *testing.T) {
	_, err := LoadDetectionConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadDetectionConfig_FromTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

	cfg, err := LoadDetectionConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.AbsFloorLph)
}

// ============================================================================
// TEST SUITE 2: VALIDATION FAILURES
// ============================================================================

func TestParseDetectionConfig_MissingKey(t *testing.T) {
	yml := strings.Replace(validYAML, "merge_gap_days: 2\n", "", 1)
	_, err := ParseDetectionConfig([]byte(yml))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "merge_gap_days")
}

func TestParseDetectionConfig_InvertedNightWindow(t *testing.T) {
	yml := strings.Replace(validYAML, "night_start: 0", "night_start: 5", 1)
	_, err := ParseDetectionConfig([]byte(yml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "night_start must be less than night_end")
}

func TestParseDetectionConfig_NonPositiveFloor(t *testing.T) {
	yml := strings.Replace(validYAML, "abs_floor_lph: 20", "abs_floor_lph: 0", 1)
	_, err := ParseDetectionConfig([]byte(yml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abs_floor_lph")
}

func TestParseDetectionConfig_WrongWeightKeys(t *testing.T) {
	yml := strings.Replace(validYAML, "BURSTBF: 0.15", "BURST: 0.15", 1)
	_, err := ParseDetectionConfig([]byte(yml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score_weights")
}

func TestParseDetectionConfig_NonPositiveWeight(t *testing.T) {
	yml := strings.Replace(validYAML, "CUSUM: 0.15", "CUSUM: 0", 1)
	_, err := ParseDetectionConfig([]byte(yml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestParseDetectionConfig_MissingGateBucket(t *testing.T) {
	yml := strings.Replace(validYAML, `  ">=1000": {fast_min: 1, default_max: 3}`+"\n", "", 1)
	_, err := ParseDetectionConfig([]byte(yml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ">=1000")
}

func TestParseDetectionConfig_BadBand(t *testing.T) {
	yml := strings.Replace(validYAML, "S2: [100, 200]", "S2: [300, 200]", 1)
	_, err := ParseDetectionConfig([]byte(yml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S2")
}

func TestDefaultDetectionConfig_IsValid(t *testing.T) {
	cfg := DefaultDetectionConfig()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsNightHour(0))
	assert.False(t, cfg.IsNightHour(4))
	assert.True(t, cfg.IsAfterHours(23))
	assert.True(t, cfg.IsAfterHours(5))
	assert.False(t, cfg.IsAfterHours(12))
}
