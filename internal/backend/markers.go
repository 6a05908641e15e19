package backend

import (
	"strings"

	"github.com/pbt-oracle/internal/config"
)

// Outcome classifies a completed backend run
type Outcome int

const (
	// OutcomeAccepted means zero exit and no error or incomplete-proof marker
	OutcomeAccepted Outcome = iota
	// OutcomeNonZeroExit means the backend exited unsuccessfully
	OutcomeNonZeroExit
	// OutcomeErrorMarker means a line carried an error marker despite a zero exit
	OutcomeErrorMarker
	// OutcomeIncomplete means the proof relied on an admitted placeholder
	OutcomeIncomplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeNonZeroExit:
		return "nonzero_exit"
	case OutcomeErrorMarker:
		return "error_marker"
	case OutcomeIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Markers holds the diagnostic substrings used to interpret backend output.
// All string matching on backend transcripts goes through this type.
type Markers struct {
	errorMarkers      []string
	incompleteMarkers []string
	noGenerator       []string
	plausibleUnusable []string
	warning           string
}

// NewMarkers creates a classifier from a configured marker set
func NewMarkers(set config.MarkerSet) *Markers {
	return &Markers{
		errorMarkers:      set.Error,
		incompleteMarkers: set.Incomplete,
		noGenerator:       set.NoGenerator,
		plausibleUnusable: set.PlausibleUnusable,
		warning:           set.Warning,
	}
}

// DefaultMarkers returns the classifier for the embedded profile
func DefaultMarkers() *Markers {
	return NewMarkers(config.DefaultProfile().Markers)
}

// Classify applies the acceptance rule: exit status zero is necessary but
// not sufficient, no output line may carry an error or incomplete marker.
func (m *Markers) Classify(res *Result) Outcome {
	if res.ExitCode != 0 {
		return OutcomeNonZeroExit
	}
	incomplete := false
	for _, line := range res.Lines() {
		if containsAny(line, m.errorMarkers) {
			return OutcomeErrorMarker
		}
		if containsAny(line, m.incompleteMarkers) {
			incomplete = true
		}
	}
	if incomplete {
		return OutcomeIncomplete
	}
	return OutcomeAccepted
}

// NoGenerator reports whether text says the backend cannot sample a type
func (m *Markers) NoGenerator(text string) bool {
	return containsAny(text, m.noGenerator)
}

// PlausibleUnusable reports whether the counterexample search could not be set up
func (m *Markers) PlausibleUnusable(text string) bool {
	return containsAny(text, m.plausibleUnusable)
}

// StripWarnings blanks every line mentioning a warning and trims the result
func (m *Markers) StripWarnings(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i, line := range lines {
		if m.warning != "" && strings.Contains(line, m.warning) {
			lines[i] = ""
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
