package crawler

import (
	"sync"
	"time"
)

// RunStats is a point-in-time view of the current run, served by the status
// endpoint.
type RunStats struct {
	RunID        string          `json:"run_id"`
	Mode         RunMode         `json:"mode"`
	Running      bool            `json:"running"`
	CurrentEvent string          `json:"current_event,omitempty"`
	Processed    int             `json:"processed"`
	Total        int             `json:"total"`
	Outcomes     map[Outcome]int `json:"outcomes"`
	Downloaded   int             `json:"downloaded"`
	Bytes        int64           `json:"bytes"`
	StartedAt    time.Time       `json:"started_at"`
	LastError    string          `json:"last_error,omitempty"`
}

type statsTracker struct {
	mu    sync.Mutex
	stats RunStats
}

func (t *statsTracker) start(runID string, mode RunMode, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = RunStats{
		RunID:     runID,
		Mode:      mode,
		Running:   true,
		Outcomes:  make(map[Outcome]int),
		StartedAt: at,
	}
}

func (t *statsTracker) setTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Total = n
}

func (t *statsTracker) begin(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.CurrentEvent = event
}

func (t *statsTracker) record(rep EventReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stats.Outcomes == nil {
		t.stats.Outcomes = make(map[Outcome]int)
	}
	t.stats.Processed++
	t.stats.Outcomes[rep.Outcome]++
	t.stats.Downloaded += len(rep.Files)
	t.stats.Bytes += rep.Bytes
}

func (t *statsTracker) stop(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Running = false
	t.stats.CurrentEvent = ""
	if err != nil {
		t.stats.LastError = err.Error()
	}
}

func (t *statsTracker) snapshot() RunStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.stats
	out.Outcomes = make(map[Outcome]int, len(t.stats.Outcomes))
	for k, v := range t.stats.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}
