package model

//
// Trials
//

import (
	"strings"
	"time"
)

// OutcomeKind is the kind of a trial [Outcome].
type OutcomeKind int

const (
	// OutcomeSuccess means the trial produced a full record.
	OutcomeSuccess = OutcomeKind(iota)

	// OutcomeDegraded means the trial was recorded with sentinel values.
	OutcomeDegraded
)

// Outcome is the explicit outcome of a trial. The zero value
// represents a successful trial.
type Outcome struct {
	// Kind is the outcome kind.
	Kind OutcomeKind

	// Reasons contains the reasons why a trial is degraded.
	Reasons []string
}

// Success returns a successful [Outcome].
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Degraded returns a degraded [Outcome] with the given reason.
func Degraded(reason string) Outcome {
	return Outcome{Kind: OutcomeDegraded, Reasons: []string{reason}}
}

// Degrade returns a copy of the outcome marked as degraded with
// the given additional reason.
func (o Outcome) Degrade(reason string) Outcome {
	reasons := append([]string{}, o.Reasons...)
	return Outcome{Kind: OutcomeDegraded, Reasons: append(reasons, reason)}
}

// IsSuccess returns whether the outcome is successful.
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}

// outcomeDegradedPrefix prefixes the serialization of degraded outcomes.
const outcomeDegradedPrefix = "degraded: "

// String returns "ok" or "degraded: <reasons>".
func (o Outcome) String() string {
	if o.IsSuccess() {
		return "ok"
	}
	return outcomeDegradedPrefix + strings.Join(o.Reasons, "; ")
}

// ParseOutcome is the inverse of [Outcome.String]. The empty
// string, which we find in legacy ledgers, maps to success.
func ParseOutcome(value string) Outcome {
	if value == "" || value == "ok" {
		return Success()
	}
	return Outcome{
		Kind:    OutcomeDegraded,
		Reasons: strings.Split(strings.TrimPrefix(value, outcomeDegradedPrefix), "; "),
	}
}

// Navigation is the result of loading a page with the browser.
type Navigation struct {
	// TimingMetricMs is the page load time in milliseconds
	// or zero when it could not be measured.
	TimingMetricMs float64

	// WallStart is when we started navigating.
	WallStart time.Time

	// WallEnd is when navigation fully quiesced.
	WallEnd time.Time

	// Outcome is the navigation outcome.
	Outcome Outcome
}

// TrialID identifies a trial.
type TrialID struct {
	Mode       Mode
	Level      Level
	Repetition int
	URL        string
}

// Trial is one (mode, level, repetition, url) measurement attempt.
type Trial struct {
	TrialID

	// CapturePath is the path of the packet capture file.
	CapturePath string

	// TimingMetricMs is the page load time in milliseconds.
	TimingMetricMs float64

	// WallStart is the wall-clock navigation start.
	WallStart time.Time

	// WallEnd is the wall-clock navigation end.
	WallEnd time.Time

	// Dynamic is non-nil only for [ModeDynamic] trials.
	Dynamic *DynamicParams

	// Outcome is the trial outcome.
	Outcome Outcome

	// Timeline is not persisted into the ledger.
	Timeline TrialTimeline
}

// TrialTimeline contains the ordering-relevant timestamps of a trial.
type TrialTimeline struct {
	CaptureStart    time.Time
	NavigationStart time.Time
	NavigationEnd   time.Time
	CaptureStop     time.Time
}

// Ordered returns whether captureStart <= navigationStart <=
// navigationEnd <= captureStop holds.
func (tl *TrialTimeline) Ordered() bool {
	return !tl.NavigationStart.Before(tl.CaptureStart) &&
		!tl.NavigationEnd.Before(tl.NavigationStart) &&
		!tl.CaptureStop.Before(tl.NavigationEnd)
}
