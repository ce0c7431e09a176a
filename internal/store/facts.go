package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const factColumns = `id, subject, predicate, object, confidence, evidence,
	first_seen, last_confirmed, contradictions, user_affirmed, is_active,
	retracted_reason, access_count, created_at`

// factValue is the serialized payload stored in modify change records.
type factValue struct {
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

func encodeFactValue(object string, confidence float64) string {
	b, _ := json.Marshal(factValue{Object: object, Confidence: confidence})
	return string(b)
}

func decodeFactValue(raw string) (factValue, bool) {
	var v factValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return factValue{}, false
	}
	return v, true
}

// NormalizePredicate lowercases a predicate and joins words with
// underscores ("works at" -> "works_at").
func NormalizePredicate(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	return strings.Join(strings.Fields(p), "_")
}

// InsertFact stores a new fact and appends a create change record.
// The predicate is normalized on the way in.
func (s *Store) InsertFact(f *Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if f.ID == "" {
		f.ID = NewID(PrefixFact)
	}
	f.Predicate = NormalizePredicate(f.Predicate)
	now := nowUTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.FirstSeen.IsZero() {
		f.FirstSeen = f.CreatedAt
	}
	if f.LastConfirmed.IsZero() {
		f.LastConfirmed = f.CreatedAt
	}
	f.IsActive = true
	f.Confidence = clamp01(f.Confidence)

	_, err := s.db.Exec(`
		INSERT INTO facts (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Subject, f.Predicate, f.Object, f.Confidence,
		marshalList(f.Evidence), FormatTime(f.FirstSeen),
		FormatTime(f.LastConfirmed), marshalList(f.Contradictions),
		boolToInt(f.UserAffirmed), 1, f.RetractedReason,
		f.AccessCount, FormatTime(f.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return s.checkFatal(fmt.Errorf("store: insert fact: %w", err))
	}

	if err := s.recordChange(&MemoryChange{
		ChangeType: ChangeCreate,
		TargetType: "fact",
		TargetID:   f.ID,
		NewValue:   encodeFactValue(f.Object, f.Confidence),
		Reason:     "fact created",
		Timestamp:  f.CreatedAt,
	}); err != nil {
		return err
	}

	s.notifyFactWrite()
	return nil
}

// GetFact retrieves a fact by id, active or not.
func (s *Store) GetFact(id string) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+factColumns+` FROM facts WHERE id = ?`, id)
	return scanFact(row)
}

// QueryFacts returns facts matching the filter, highest confidence first.
func (s *Store) QueryFacts(filter FactFilter) ([]*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, filter.Subject)
	}
	if filter.Predicate != "" {
		where = append(where, "predicate = ?")
		args = append(args, NormalizePredicate(filter.Predicate))
	}
	if filter.Object != "" {
		where = append(where, "object = ?")
		args = append(args, filter.Object)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := `SELECT ` + factColumns + ` FROM facts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY confidence DESC, created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ActiveFacts returns the entire current belief set.
func (s *Store) ActiveFacts() ([]*Fact, error) {
	return s.QueryFacts(FactFilter{ActiveOnly: true})
}

// ConfirmFact refreshes lastConfirmed, optionally strengthening
// confidence, and appends evidence. Records a strengthen change.
func (s *Store) ConfirmFact(id string, confidence float64, evidence string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	f, err := s.getFactLocked(id)
	if err != nil {
		return err
	}

	prev := encodeFactValue(f.Object, f.Confidence)
	if confidence > f.Confidence {
		f.Confidence = clamp01(confidence)
	}
	if evidence != "" && !contains(f.Evidence, evidence) {
		f.Evidence = append(f.Evidence, evidence)
	}
	now := nowUTC()

	_, err = s.db.Exec(`
		UPDATE facts SET confidence = ?, evidence = ?, last_confirmed = ?
		WHERE id = ?
	`, f.Confidence, marshalList(f.Evidence), FormatTime(now), id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: confirm fact: %w", err))
	}

	if err := s.recordChange(&MemoryChange{
		ChangeType:    ChangeStrengthen,
		TargetType:    "fact",
		TargetID:      id,
		PreviousValue: prev,
		NewValue:      encodeFactValue(f.Object, f.Confidence),
		Reason:        "fact reconfirmed",
		Timestamp:     now,
	}); err != nil {
		return err
	}

	s.notifyFactWrite()
	return nil
}

// ModifyFact replaces the object and/or confidence of a fact, recording
// a modify change that point-in-time queries will replay.
func (s *Store) ModifyFact(id, newObject string, newConfidence float64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	f, err := s.getFactLocked(id)
	if err != nil {
		return err
	}

	prev := encodeFactValue(f.Object, f.Confidence)
	if newObject == "" {
		newObject = f.Object
	}
	newConfidence = clamp01(newConfidence)
	now := nowUTC()

	_, err = s.db.Exec(`
		UPDATE facts SET object = ?, confidence = ?, last_confirmed = ?
		WHERE id = ?
	`, newObject, newConfidence, FormatTime(now), id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: modify fact: %w", err))
	}

	if err := s.recordChange(&MemoryChange{
		ChangeType:    ChangeModify,
		TargetType:    "fact",
		TargetID:      id,
		PreviousValue: prev,
		NewValue:      encodeFactValue(newObject, newConfidence),
		Reason:        reason,
		Timestamp:     now,
	}); err != nil {
		return err
	}

	s.notifyFactWrite()
	return nil
}

// RetractFact soft-retracts a fact: the row survives with isActive=false
// and the reason, and a retract change is appended.
func (s *Store) RetractFact(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	f, err := s.getFactLocked(id)
	if err != nil {
		return err
	}
	if !f.IsActive {
		return nil
	}

	now := nowUTC()
	_, err = s.db.Exec(`
		UPDATE facts SET is_active = 0, retracted_reason = ? WHERE id = ?
	`, reason, id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: retract fact: %w", err))
	}

	if err := s.recordChange(&MemoryChange{
		ChangeType:    ChangeRetract,
		TargetType:    "fact",
		TargetID:      id,
		PreviousValue: encodeFactValue(f.Object, f.Confidence),
		Reason:        reason,
		Timestamp:     now,
	}); err != nil {
		return err
	}

	s.notifyFactWrite()
	return nil
}

// AddContradiction links two facts as mutually conflicting.
func (s *Store) AddContradiction(id, otherID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	for _, pair := range [][2]string{{id, otherID}, {otherID, id}} {
		f, err := s.getFactLocked(pair[0])
		if err != nil {
			return err
		}
		if contains(f.Contradictions, pair[1]) {
			continue
		}
		f.Contradictions = append(f.Contradictions, pair[1])
		if _, err := s.db.Exec(`UPDATE facts SET contradictions = ? WHERE id = ?`,
			marshalList(f.Contradictions), pair[0]); err != nil {
			return s.checkFatal(fmt.Errorf("store: add contradiction: %w", err))
		}
	}
	return nil
}

// TouchFact records an access to a fact.
func (s *Store) TouchFact(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(`UPDATE facts SET access_count = access_count + 1 WHERE id = ?`, id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: touch fact: %w", err))
	}
	return nil
}

// SearchFacts runs ranked keyword retrieval over the FTS index across
// subject, predicate, and object.
func (s *Store) SearchFacts(query string, limit int) ([]*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT `+prefixColumns(factColumns, "f.")+`
		FROM facts_fts
		JOIN facts f ON f.rowid = facts_fts.rowid
		WHERE facts_fts MATCH ? AND f.is_active = 1
		ORDER BY rank LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// ftsQuery turns free text into a safe OR-joined FTS5 match expression.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'?!.,:;`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, ``)+`"`)
	}
	return strings.Join(terms, " OR ")
}

func prefixColumns(cols, prefix string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// getFactLocked fetches a fact while s.mu is already held.
func (s *Store) getFactLocked(id string) (*Fact, error) {
	row := s.db.QueryRow(`SELECT `+factColumns+` FROM facts WHERE id = ?`, id)
	return scanFact(row)
}

func scanFact(row rowScanner) (*Fact, error) {
	var f Fact
	var evidence, contradictions, firstSeen, lastConfirmed, createdAt string
	var userAffirmed, isActive int
	var retractedReason sql.NullString

	err := row.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Object, &f.Confidence,
		&evidence, &firstSeen, &lastConfirmed, &contradictions,
		&userAffirmed, &isActive, &retractedReason, &f.AccessCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan fact: %w", err)
	}

	f.Evidence = unmarshalList(evidence)
	f.Contradictions = unmarshalList(contradictions)
	f.FirstSeen = ParseTime(firstSeen)
	f.LastConfirmed = ParseTime(lastConfirmed)
	f.CreatedAt = ParseTime(createdAt)
	f.UserAffirmed = userAffirmed != 0
	f.IsActive = isActive != 0
	f.RetractedReason = retractedReason.String
	return &f, nil
}

func scanFacts(rows *sql.Rows) ([]*Fact, error) {
	var out []*Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
