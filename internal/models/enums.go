package models

type IncidentStatus string

const (
	StatusOK          IncidentStatus = "OK"
	StatusWatch       IncidentStatus = "WATCH"
	StatusInvestigate IncidentStatus = "INVESTIGATE"
	StatusCall        IncidentStatus = "CALL"
)

// IsConfirmed reports whether the status is past the persistence gate.
// Confirmed incidents are never auto-closed.
func (s IncidentStatus) IsConfirmed() bool {
	return s == StatusInvestigate || s == StatusCall
}

// Rank orders statuses so escalation can be compared.
func (s IncidentStatus) Rank() int {
	switch s {
	case StatusWatch:
		return 1
	case StatusInvestigate:
		return 2
	case StatusCall:
		return 3
	default:
		return 0
	}
}

// NextAction is the operator instruction shown alongside a daily status.
func (s IncidentStatus) NextAction() string {
	switch s {
	case StatusWatch:
		return "Monitor next night"
	case StatusInvestigate:
		return "Caretaker walk-through"
	case StatusCall:
		return "Escalate to plumber"
	default:
		return "None"
	}
}

type SignalName string

const (
	SignalMNF      SignalName = "MNF"
	SignalResidual SignalName = "RESIDUAL"
	SignalCUSUM    SignalName = "CUSUM"
	SignalAfterHrs SignalName = "AFTERHRS"
	SignalBurstBF  SignalName = "BURSTBF"
)

// AllSignals lists the five detection signals in scoring order.
var AllSignals = []SignalName{SignalMNF, SignalResidual, SignalCUSUM, SignalAfterHrs, SignalBurstBF}

func IsValidSignal(s SignalName) bool {
	switch s {
	case SignalMNF, SignalResidual, SignalCUSUM, SignalAfterHrs, SignalBurstBF:
		return true
	default:
		return false
	}
}

type Season string

const (
	SeasonTerm1       Season = "term_1"
	SeasonTerm2       Season = "term_2"
	SeasonTerm3       Season = "term_3"
	SeasonTerm4       Season = "term_4"
	SeasonSummer      Season = "summer"
	SeasonWinterBreak Season = "winter_break"
	SeasonAutumnBreak Season = "autumn_break"
	SeasonSpringBreak Season = "spring_break"
	SeasonAnyTerm     Season = "any_term"
	SeasonAnyHoliday  Season = "any_holiday"
)

// ValidSeasonTags are the tags a pattern may carry.
var ValidSeasonTags = []Season{
	SeasonTerm1, SeasonTerm2, SeasonTerm3, SeasonTerm4,
	SeasonSummer, SeasonWinterBreak, SeasonAutumnBreak, SeasonSpringBreak,
	SeasonAnyTerm, SeasonAnyHoliday,
}

func IsValidSeasonTag(s Season) bool {
	for _, v := range ValidSeasonTags {
		if v == s {
			return true
		}
	}
	return false
}

func (s Season) IsTerm() bool {
	switch s {
	case SeasonTerm1, SeasonTerm2, SeasonTerm3, SeasonTerm4:
		return true
	default:
		return false
	}
}

func (s Season) IsHoliday() bool {
	switch s {
	case SeasonSummer, SeasonWinterBreak, SeasonAutumnBreak, SeasonSpringBreak:
		return true
	default:
		return false
	}
}

type MatchAction string

const (
	MatchSuppressed MatchAction = "suppressed"
	MatchFlagged    MatchAction = "flagged"
	MatchIgnored    MatchAction = "ignored"
)

type RecordAction string

const (
	RecordCreated     RecordAction = "created"
	RecordUpdated     RecordAction = "updated"
	RecordReactivated RecordAction = "reactivated"
)

// WildcardSite marks a pattern that applies to every site.
const WildcardSite = "ALL"

// EpisodicFill labels a day suppressed as a transient fill event.
const EpisodicFill = "EPISODIC FILL"

// CloseReasonSelfResolved is recorded when a WATCH incident closes on its own.
const CloseReasonSelfResolved = "self-resolved/benign"
