package detector

import (
	"sort"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/stats"
)

const nightFlowPercentile = 10

// BuildDaily derives one DailyAggregate per calendar day in samples.
// The result is sorted by date and is always rebuilt from scratch.
func BuildDaily(samples []models.HourlySample, cfg *config.DetectionConfig) []models.DailyAggregate {
	night := make(map[time.Time][]float64)
	after := make(map[time.Time]float64)
	days := make(map[time.Time]struct{})

	for _, s := range samples {
		day := s.Day()
		days[day] = struct{}{}
		hour := s.Hour()
		if cfg.IsNightHour(hour) {
			night[day] = append(night[day], s.Flow)
		}
		if cfg.IsAfterHours(hour) {
			after[day] += s.Flow
		}
	}

	out := make([]models.DailyAggregate, 0, len(days))
	for day := range days {
		agg := models.DailyAggregate{
			Date: day,
			A:    after[day] / 1000.0,
		}
		if flows, ok := night[day]; ok && len(flows) > 0 {
			agg.NF = stats.Percentile(flows, nightFlowPercentile)
			agg.HasNight = true
		}
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
