package detector

import (
	"strconv"
	"strings"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/stats"
)

const (
	// agreementThreshold is the sub-score at which a signal counts as agreeing.
	agreementThreshold = 0.7
	// minPersistenceDays is the floor on any persistence gate.
	minPersistenceDays = 3
	// fastGateMinSignals and fastGateMinConfidence select the fast gate.
	fastGateMinSignals    = 3
	fastGateMinConfidence = 70.0

	severityFallbackLph = 10000.0
)

// Severity maps deltaNF onto the first band with low <= deltaNF < high.
func Severity(deltaNF float64, bands []config.SeverityBand) string {
	for _, b := range bands {
		if deltaNF >= b.Low && deltaNF < b.High {
			return b.Name
		}
	}
	if deltaNF >= severityFallbackLph {
		return "S5"
	}
	return "S1"
}

// SeverityRank returns n for "S<n>", or 1 when the label does not parse.
func SeverityRank(severity string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(severity, "S"))
	if err != nil {
		return 1
	}
	return n
}

// Confidence blends signal-to-noise, persistence and signal agreement into 0..100.
func Confidence(scores models.SubScores, persistenceDays int, deltaNF, nfMAD float64) float64 {
	agree := scores.Agreeing(agreementThreshold)
	snr := deltaNF / max(nfMAD, 1)
	normSNR := min(1, snr/10)
	normPersist := min(1, float64(persistenceDays)/10)
	normAgree := float64(agree) / float64(len(models.AllSignals))
	return stats.Clamp(100*(0.3*normSNR+0.3*normPersist+0.4*normAgree), 0, 100)
}

// PersistenceNeeded returns how many days an incident must persist before it
// may escalate. It is never below three.
func PersistenceNeeded(deltaNF float64, agree int, confidence float64, gates map[string]config.PersistenceGate) int {
	var key string
	switch {
	case deltaNF < 100:
		key = config.GateBelow100
	case deltaNF < 200:
		key = config.Gate100To200
	case deltaNF < 1000:
		key = config.Gate200To1000
	default:
		key = config.GateAtLeast1000
	}
	gate := gates[key]
	needed := gate.DefaultMax
	if agree >= fastGateMinSignals && confidence >= fastGateMinConfidence {
		needed = gate.FastMin
	}
	return max(minPersistenceDays, needed)
}
