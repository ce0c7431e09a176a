package store

import (
	"database/sql"
	"fmt"
)

const causalColumns = `id, cause_type, cause_id, cause_desc, effect_type,
	effect_id, effect_desc, mechanism, confidence, evidence, temporal_delay,
	causal_strength, created_at`

// InsertCausalLink stores a directed cause -> effect edge. Strength is
// derived from confidence at creation time.
func (s *Store) InsertCausalLink(cl *CausalLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if cl.ID == "" {
		cl.ID = NewID(PrefixCausalLink)
	}
	if cl.CreatedAt.IsZero() {
		cl.CreatedAt = nowUTC()
	}
	cl.Confidence = clamp01(cl.Confidence)
	if cl.Confidence > DirectStrengthThreshold {
		cl.CausalStrength = StrengthDirect
	} else {
		cl.CausalStrength = StrengthContributing
	}

	_, err := s.db.Exec(`
		INSERT INTO causal_links (`+causalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cl.ID, string(cl.CauseType), cl.CauseID, cl.CauseDesc,
		string(cl.EffectType), cl.EffectID, cl.EffectDesc, cl.Mechanism,
		cl.Confidence, marshalList(cl.Evidence), cl.TemporalDelay,
		string(cl.CausalStrength), FormatTime(cl.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return s.checkFatal(fmt.Errorf("store: insert causal link: %w", err))
	}
	return nil
}

// GetCausalLink retrieves a link by id.
func (s *Store) GetCausalLink(id string) (*CausalLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+causalColumns+` FROM causal_links WHERE id = ?`, id)
	return scanCausalLink(row)
}

// ListCausalLinks returns all links, highest confidence first.
func (s *Store) ListCausalLinks(limit int) ([]*CausalLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`
		SELECT `+causalColumns+` FROM causal_links
		ORDER BY confidence DESC, created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list causal links: %w", err)
	}
	defer rows.Close()
	return scanCausalLinks(rows)
}

// DeleteCausalLink removes a link (used only by limit enforcement).
func (s *Store) DeleteCausalLink(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(`DELETE FROM causal_links WHERE id = ?`, id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: delete causal link: %w", err))
	}
	return nil
}

func scanCausalLink(row rowScanner) (*CausalLink, error) {
	var cl CausalLink
	var causeType, effectType, strength, evidence, createdAt string
	var mechanism, delay sql.NullString

	err := row.Scan(&cl.ID, &causeType, &cl.CauseID, &cl.CauseDesc,
		&effectType, &cl.EffectID, &cl.EffectDesc, &mechanism,
		&cl.Confidence, &evidence, &delay, &strength, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan causal link: %w", err)
	}

	cl.CauseType = CauseType(causeType)
	cl.EffectType = CauseType(effectType)
	cl.CausalStrength = CausalStrength(strength)
	cl.Mechanism = mechanism.String
	cl.TemporalDelay = delay.String
	cl.Evidence = unmarshalList(evidence)
	cl.CreatedAt = ParseTime(createdAt)
	return &cl, nil
}

func scanCausalLinks(rows *sql.Rows) ([]*CausalLink, error) {
	var out []*CausalLink
	for rows.Next() {
		cl, err := scanCausalLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}
