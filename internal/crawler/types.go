package crawler

import (
	"fmt"
	"time"
)

// Outcome is the terminal state of one event.
type Outcome string

// Event outcomes.
const (
	OutcomeSkippedExcluded  Outcome = "skipped_excluded"
	OutcomeSkippedCompleted Outcome = "skipped_completed"
	OutcomeNoMatch          Outcome = "no_match"
	OutcomeExcludedType     Outcome = "excluded_type"
	OutcomeNoSpectra        Outcome = "no_spectra"
	OutcomeAllPrivate       Outcome = "all_private"
	OutcomeUnresolvedLinks  Outcome = "unresolved_links"
	OutcomeZeroAfterDedup   Outcome = "zero_after_dedup"
	OutcomeDownloaded       Outcome = "downloaded"
)

// Terminal reports whether the outcome was decided by processing the event
// rather than by the registry.
func (o Outcome) Terminal() bool {
	return o != OutcomeSkippedExcluded && o != OutcomeSkippedCompleted
}

// EventReport summarizes one processed event.
type EventReport struct {
	RunID   string  `json:"run_id"`
	Event   string  `json:"event"`
	Outcome Outcome `json:"outcome"`
	Type    string  `json:"type,omitempty"`
	// Candidates is the number of object blocks the search returned.
	Candidates int `json:"candidates"`
	Public     int `json:"public"`
	Private    int `json:"private"`
	// Files maps each written spectrum to its SHA-256 digest.
	Files          map[string]string `json:"files,omitempty"`
	Removed        []string          `json:"removed,omitempty"`
	Bytes          int64             `json:"bytes"`
	MetadataURI    string            `json:"metadata_uri,omitempty"`
	DirectoryReset bool              `json:"directory_reset,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// Attributes returns the Pub/Sub attributes for a completion message.
func (r EventReport) Attributes() map[string]string {
	return map[string]string{
		"run_id":  r.RunID,
		"event":   r.Event,
		"outcome": string(r.Outcome),
	}
}

// RunMode distinguishes full crawls from update crawls.
type RunMode string

// Run modes.
const (
	ModeFull   RunMode = "full"
	ModeUpdate RunMode = "update"
	ModeSingle RunMode = "single"
)

// RunSummary is returned by Engine.Run.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	Mode       RunMode         `json:"mode"`
	Events     int             `json:"events"`
	Outcomes   map[Outcome]int `json:"outcomes"`
	Downloaded int             `json:"downloaded"`
	Bytes      int64           `json:"bytes"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Runtime returns the wall time of the run.
func (s RunSummary) Runtime() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// StatusError reports a non-2xx response from the site.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}
