package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const procedureColumns = `id, trigger_text, action_text, expected_outcome,
	examples, times_used, times_succeeded, tags, created_at`

// InsertProcedure stores a trigger -> action pattern.
func (s *Store) InsertProcedure(p *Procedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if p.ID == "" {
		p.ID = NewID(PrefixProcedure)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowUTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO procedures (`+procedureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Trigger, p.Action, p.ExpectedOutcome, marshalList(p.Examples),
		p.TimesUsed, p.TimesSucceeded, marshalList(p.Tags), FormatTime(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return s.checkFatal(fmt.Errorf("store: insert procedure: %w", err))
	}
	return nil
}

// GetProcedure retrieves a procedure by id.
func (s *Store) GetProcedure(id string) (*Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+procedureColumns+` FROM procedures WHERE id = ?`, id)
	return scanProcedure(row)
}

// ListProcedures returns all procedures.
func (s *Store) ListProcedures() ([]*Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + procedureColumns + ` FROM procedures ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list procedures: %w", err)
	}
	defer rows.Close()
	return scanProcedures(rows)
}

// FindProcedure locates a procedure by case-insensitive trigger+action
// equality, the consolidation dedupe key.
func (s *Store) FindProcedure(trigger, action string) (*Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT `+procedureColumns+` FROM procedures
		WHERE LOWER(trigger_text) = ? AND LOWER(action_text) = ?
	`, strings.ToLower(trigger), strings.ToLower(action))
	return scanProcedure(row)
}

// RecordProcedureUse bumps usage counters after a procedure fires.
func (s *Store) RecordProcedureUse(id string, succeeded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		UPDATE procedures SET times_used = times_used + 1,
			times_succeeded = times_succeeded + ?
		WHERE id = ?
	`, boolToInt(succeeded), id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: record procedure use: %w", err))
	}
	return nil
}

// DeleteProcedure removes a procedure (limit enforcement only).
func (s *Store) DeleteProcedure(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(`DELETE FROM procedures WHERE id = ?`, id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: delete procedure: %w", err))
	}
	return nil
}

func scanProcedure(row rowScanner) (*Procedure, error) {
	var p Procedure
	var examples, tags, createdAt string
	var outcome sql.NullString

	err := row.Scan(&p.ID, &p.Trigger, &p.Action, &outcome, &examples,
		&p.TimesUsed, &p.TimesSucceeded, &tags, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan procedure: %w", err)
	}

	p.ExpectedOutcome = outcome.String
	p.Examples = unmarshalList(examples)
	p.Tags = unmarshalList(tags)
	p.CreatedAt = ParseTime(createdAt)
	return &p, nil
}

func scanProcedures(rows *sql.Rows) ([]*Procedure, error) {
	var out []*Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
