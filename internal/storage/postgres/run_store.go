package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/wiserep-spider/internal/crawler"
)

// StartRun inserts the run row with status running.
func (s *Store) StartRun(ctx context.Context, run crawler.RunSummary) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, mode, status, started_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status
WHERE %s.status <> EXCLUDED.status`, s.runs, s.runs)
	if _, err := s.pool.Exec(ctx, query, run.RunID, string(run.Mode), RunRunning, run.StartedAt); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// FinishRun marks the run finished with its totals and optional error message.
func (s *Store) FinishRun(ctx context.Context, run crawler.RunSummary, runErr error) error {
	status := RunSucceeded
	var errMsg *string
	if runErr != nil {
		status = RunFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, events = $3, downloaded = $4, bytes = $5, outcomes = $6, error_message = $7
WHERE id = $8`, s.runs)
	_, err = s.pool.Exec(ctx, query,
		run.FinishedAt,
		status,
		run.Events,
		run.Downloaded,
		run.Bytes,
		outcomes,
		errMsg,
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}
