package store

import (
	"database/sql"
	"fmt"
	"time"
)

const runColumns = `id, processed_from, processed_to, sessions_processed,
	episodes_created, facts_extracted, causal_links_found, procedures_learned,
	contradictions_resolved, memories_pruned, duration_ms, status, error,
	started_at`

// OpenRun records the start of a consolidation run with status running.
func (s *Store) OpenRun(run *ConsolidationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if run.ID == "" {
		run.ID = NewID(PrefixRun)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = nowUTC()
	}
	run.Status = RunRunning

	_, err := s.db.Exec(`
		INSERT INTO consolidation_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, FormatTime(run.ProcessedFrom), FormatTime(run.ProcessedTo),
		run.SessionsProcessed, run.EpisodesCreated, run.FactsExtracted,
		run.CausalLinksFound, run.ProceduresLearned, run.ContradictionsResolved,
		run.MemoriesPruned, run.Duration.Milliseconds(), string(run.Status),
		run.Error, FormatTime(run.StartedAt))
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: open run: %w", err))
	}
	return nil
}

// CloseRun finalizes a run: counters, duration, terminal status.
func (s *Store) CloseRun(run *ConsolidationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		UPDATE consolidation_runs SET
			sessions_processed = ?, episodes_created = ?, facts_extracted = ?,
			causal_links_found = ?, procedures_learned = ?,
			contradictions_resolved = ?, memories_pruned = ?,
			duration_ms = ?, status = ?, error = ?
		WHERE id = ?
	`, run.SessionsProcessed, run.EpisodesCreated, run.FactsExtracted,
		run.CausalLinksFound, run.ProceduresLearned, run.ContradictionsResolved,
		run.MemoriesPruned, run.Duration.Milliseconds(), string(run.Status),
		run.Error, run.ID)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: close run: %w", err))
	}
	return nil
}

// LastCompletedRun returns the most recent completed run, or ErrNotFound.
func (s *Store) LastCompletedRun() (*ConsolidationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT ` + runColumns + ` FROM consolidation_runs
		WHERE status = 'completed'
		ORDER BY processed_to DESC LIMIT 1
	`)
	return scanRun(row)
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(id string) (*ConsolidationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+runColumns+` FROM consolidation_runs WHERE id = ?`, id)
	return scanRun(row)
}

func scanRun(row rowScanner) (*ConsolidationRun, error) {
	var r ConsolidationRun
	var from, to, status, startedAt string
	var errMsg sql.NullString
	var durationMs int64

	err := row.Scan(&r.ID, &from, &to, &r.SessionsProcessed, &r.EpisodesCreated,
		&r.FactsExtracted, &r.CausalLinksFound, &r.ProceduresLearned,
		&r.ContradictionsResolved, &r.MemoriesPruned, &durationMs,
		&status, &errMsg, &startedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan run: %w", err)
	}

	r.ProcessedFrom = ParseTime(from)
	r.ProcessedTo = ParseTime(to)
	r.Duration = time.Duration(durationMs) * time.Millisecond
	r.Status = RunStatus(status)
	r.Error = errMsg.String
	r.StartedAt = ParseTime(startedAt)
	return &r, nil
}
