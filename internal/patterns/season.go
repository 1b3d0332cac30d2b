package patterns

import (
	"log/slog"
	"time"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/models"
)

// Seasonal adjustment factors.
const (
	SeasonMatchBoost      = 1.20
	SeasonWildcardBoost   = 1.15
	SeasonNeutral         = 1.0
	SeasonMismatchPenalty = 0.80
)

type monthDay struct {
	month time.Month
	day   int
}

func (m monthDay) before(o monthDay) bool {
	return m.month < o.month || (m.month == o.month && m.day < o.day)
}

type schoolPeriod struct {
	season models.Season
	start  monthDay
	end    monthDay
}

// nswCalendar holds approximate NSW term and summer dates, checked in order.
var nswCalendar = []schoolPeriod{
	{models.SeasonTerm1, monthDay{time.February, 1}, monthDay{time.April, 12}},
	{models.SeasonTerm2, monthDay{time.April, 28}, monthDay{time.July, 5}},
	{models.SeasonTerm3, monthDay{time.July, 21}, monthDay{time.September, 27}},
	{models.SeasonTerm4, monthDay{time.October, 14}, monthDay{time.December, 18}},
	{models.SeasonSummer, monthDay{time.December, 19}, monthDay{time.January, 31}},
}

// Between-term breaks.
var nswBreaks = []schoolPeriod{
	{models.SeasonAutumnBreak, monthDay{time.April, 13}, monthDay{time.April, 27}},
	{models.SeasonWinterBreak, monthDay{time.July, 6}, monthDay{time.July, 20}},
	{models.SeasonSpringBreak, monthDay{time.September, 28}, monthDay{time.October, 13}},
}

func (p schoolPeriod) contains(md monthDay) bool {
	if p.end.before(p.start) {
		return !md.before(p.start) || !p.end.before(md)
	}
	return !md.before(p.start) && !p.end.before(md)
}

// DetectSeason returns the school season a date falls in.
func DetectSeason(t time.Time) models.Season {
	md := monthDay{t.Month(), t.Day()}
	for _, p := range nswCalendar {
		if p.contains(md) {
			return p.season
		}
	}
	for _, p := range nswBreaks {
		if p.contains(md) {
			return p.season
		}
	}
	return models.SeasonTerm1
}

func IsSchoolTerm(t time.Time) bool {
	return DetectSeason(t).IsTerm()
}

func IsSchoolHoliday(t time.Time) bool {
	return DetectSeason(t).IsHoliday()
}

// SeasonalFactor compares a pattern's season tags against the season of date.
func SeasonalFactor(date time.Time, tags []models.Season) float64 {
	if len(tags) == 0 {
		return SeasonNeutral
	}
	season := DetectSeason(date)
	hasTag := func(s models.Season) bool {
		for _, t := range tags {
			if t == s {
				return true
			}
		}
		return false
	}
	switch {
	case hasTag(season):
		return SeasonMatchBoost
	case hasTag(models.SeasonAnyTerm) && season.IsTerm():
		return SeasonWildcardBoost
	case hasTag(models.SeasonAnyHoliday) && season.IsHoliday():
		return SeasonWildcardBoost
	default:
		return SeasonMismatchPenalty
	}
}

// ApplySeasonalBoost scales score by the seasonal factor and clamps to [0,1].
func ApplySeasonalBoost(score float64, date time.Time, tags []models.Season) float64 {
	return clamp01(score * SeasonalFactor(date, tags))
}

// FilterSeasonTags drops unknown tags, logging what was removed.
func FilterSeasonTags(tags []string) []models.Season {
	out := make([]models.Season, 0, len(tags))
	var invalid []string
	for _, t := range tags {
		s := models.Season(t)
		if models.IsValidSeasonTag(s) {
			out = append(out, s)
		} else {
			invalid = append(invalid, t)
		}
	}
	if len(invalid) > 0 {
		slog.Warn("Invalid season tags ignored", "tags", invalid)
	}
	return out
}

// UsageSample is one dated usage reading for pool detection.
type UsageSample struct {
	Time    time.Time `json:"time"`
	UsageKL float64   `json:"usage_kL"`
}

// DefaultPoolSpikeThreshold is the summer-over-term increase that implies a pool.
const DefaultPoolSpikeThreshold = 0.5

// DetectPoolPresence compares mean summer (Dec-Feb) usage against the rest of
// the year. It returns whether a pool is likely and the rounded increase.
func DetectPoolPresence(samples []UsageSample, threshold float64) (bool, float64) {
	var summerSum, termSum float64
	var summerN, termN int
	for _, s := range samples {
		switch s.Time.Month() {
		case time.December, time.January, time.February:
			summerSum += s.UsageKL
			summerN++
		default:
			termSum += s.UsageKL
			termN++
		}
	}
	if summerN == 0 || termN == 0 {
		return false, 0
	}
	term := termSum / float64(termN)
	if term == 0 {
		return false, 0
	}
	increase := (summerSum/float64(summerN) - term) / term
	return increase >= threshold, round(increase, 2)
}
