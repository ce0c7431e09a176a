package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// User profile
// =============================================================================

// UpsertProfile inserts or replaces the discriminated trait profile for a
// user.
func (s *Store) UpsertProfile(p *UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if p.ID == "" {
		p.ID = NewID(PrefixProfile)
	}
	now := nowUTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	stable, _ := json.Marshal(p.StableTraits)
	transient, _ := json.Marshal(p.TransientTraits)

	_, err := s.db.Exec(`
		INSERT INTO user_profiles (id, user_id, stable_traits, transient_traits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			stable_traits = excluded.stable_traits,
			transient_traits = excluded.transient_traits,
			updated_at = excluded.updated_at
	`, p.ID, p.UserID, string(stable), string(transient),
		FormatTime(p.CreatedAt), FormatTime(p.UpdatedAt))
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: upsert profile: %w", err))
	}
	return nil
}

// GetProfile retrieves the profile for a user.
func (s *Store) GetProfile(userID string) (*UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p UserProfile
	var stable, transient, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, stable_traits, transient_traits, created_at, updated_at
		FROM user_profiles WHERE user_id = ?
	`, userID).Scan(&p.ID, &p.UserID, &stable, &transient, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get profile: %w", err)
	}

	json.Unmarshal([]byte(stable), &p.StableTraits)
	json.Unmarshal([]byte(transient), &p.TransientTraits)
	p.CreatedAt = ParseTime(createdAt)
	p.UpdatedAt = ParseTime(updatedAt)
	return &p, nil
}

// =============================================================================
// Preferences
// =============================================================================

// UpsertPreference inserts or refreshes a mirrored preference. The
// (user, category, item) key dedupes repeats.
func (s *Store) UpsertPreference(p *Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if p.ID == "" {
		p.ID = NewID(PrefixPreference)
	}
	now := nowUTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO preferences (id, user_id, category, item, sentiment, strength, source_fact_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category, item) DO UPDATE SET
			sentiment = excluded.sentiment,
			strength = excluded.strength,
			source_fact_id = excluded.source_fact_id,
			updated_at = excluded.updated_at
	`, p.ID, p.UserID, p.Category, p.Item, string(p.Sentiment),
		p.Strength, p.SourceFactID, FormatTime(p.CreatedAt), FormatTime(p.UpdatedAt))
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: upsert preference: %w", err))
	}
	return nil
}

// ListPreferences returns a user's preferences.
func (s *Store) ListPreferences(userID string) ([]*Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, category, item, sentiment, strength, source_fact_id, created_at, updated_at
		FROM preferences WHERE user_id = ? ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list preferences: %w", err)
	}
	defer rows.Close()

	var out []*Preference
	for rows.Next() {
		var p Preference
		var sentiment, createdAt, updatedAt string
		var sourceFactID sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Category, &p.Item, &sentiment,
			&p.Strength, &sourceFactID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan preference: %w", err)
		}
		p.Sentiment = Sentiment(sentiment)
		p.SourceFactID = sourceFactID.String
		p.CreatedAt = ParseTime(createdAt)
		p.UpdatedAt = ParseTime(updatedAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// =============================================================================
// Relationships
// =============================================================================

// UpsertRelationship inserts or refreshes a known person.
func (s *Store) UpsertRelationship(r *Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if r.ID == "" {
		r.ID = NewID(PrefixRelationship)
	}
	now := nowUTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Sentiment == "" {
		r.Sentiment = SentimentNeutral
	}

	_, err := s.db.Exec(`
		INSERT INTO relationships (id, user_id, person, relation, sentiment, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, person) DO UPDATE SET
			relation = excluded.relation,
			sentiment = excluded.sentiment,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`, r.ID, r.UserID, r.Person, r.Relation, string(r.Sentiment), r.Notes,
		FormatTime(r.CreatedAt), FormatTime(r.UpdatedAt))
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: upsert relationship: %w", err))
	}
	return nil
}

// ListRelationships returns a user's known people.
func (s *Store) ListRelationships(userID string) ([]*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, person, relation, sentiment, notes, created_at, updated_at
		FROM relationships WHERE user_id = ? ORDER BY person
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list relationships: %w", err)
	}
	defer rows.Close()

	var out []*Relationship
	for rows.Next() {
		var r Relationship
		var sentiment, createdAt, updatedAt string
		var notes sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.Person, &r.Relation,
			&sentiment, &notes, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan relationship: %w", err)
		}
		r.Sentiment = Sentiment(sentiment)
		r.Notes = notes.String
		r.CreatedAt = ParseTime(createdAt)
		r.UpdatedAt = ParseTime(updatedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// =============================================================================
// Core memories
// =============================================================================

// InsertCoreMemory stores an always-loaded note about the user.
func (s *Store) InsertCoreMemory(cm *CoreMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if cm.ID == "" {
		cm.ID = NewID(PrefixCoreMemory)
	}
	now := nowUTC()
	if cm.CreatedAt.IsZero() {
		cm.CreatedAt = now
	}
	cm.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO core_memories (id, user_id, content, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cm.ID, cm.UserID, cm.Content, cm.Category,
		FormatTime(cm.CreatedAt), FormatTime(cm.UpdatedAt))
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: insert core memory: %w", err))
	}
	return nil
}

// ListCoreMemories returns a user's core memories, newest first.
func (s *Store) ListCoreMemories(userID string) ([]*CoreMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, user_id, content, category, created_at, updated_at
		FROM core_memories WHERE user_id = ? ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list core memories: %w", err)
	}
	defer rows.Close()

	var out []*CoreMemory
	for rows.Next() {
		var cm CoreMemory
		var category sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&cm.ID, &cm.UserID, &cm.Content, &category,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan core memory: %w", err)
		}
		cm.Category = category.String
		cm.CreatedAt = ParseTime(createdAt)
		cm.UpdatedAt = ParseTime(updatedAt)
		out = append(out, &cm)
	}
	return out, rows.Err()
}

// =============================================================================
// Foresights
// =============================================================================

const foresightColumns = `id, user_id, description, confidence, start_time,
	end_time, duration_days, is_active, source_episode_id, created_at`

// InsertForesight stores a forward-looking expectation.
func (s *Store) InsertForesight(fs *Foresight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if fs.ID == "" {
		fs.ID = NewID(PrefixForesight)
	}
	if fs.CreatedAt.IsZero() {
		fs.CreatedAt = nowUTC()
	}
	if fs.StartTime.IsZero() {
		fs.StartTime = fs.CreatedAt
	}
	fs.IsActive = true

	var endTime any
	if fs.EndTime != nil {
		endTime = FormatTime(*fs.EndTime)
	}

	_, err := s.db.Exec(`
		INSERT INTO foresights (`+foresightColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fs.ID, fs.UserID, fs.Description, clamp01(fs.Confidence),
		FormatTime(fs.StartTime), endTime, fs.DurationDays, 1,
		fs.SourceEpisodeID, FormatTime(fs.CreatedAt))
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: insert foresight: %w", err))
	}
	return nil
}

// ListForesights returns a user's foresights, active only when requested.
func (s *Store) ListForesights(userID string, activeOnly bool) ([]*Foresight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + foresightColumns + ` FROM foresights WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY start_time DESC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list foresights: %w", err)
	}
	defer rows.Close()

	var out []*Foresight
	for rows.Next() {
		var fs Foresight
		var startTime, createdAt string
		var endTime, sourceEpisode sql.NullString
		var isActive int
		if err := rows.Scan(&fs.ID, &fs.UserID, &fs.Description, &fs.Confidence,
			&startTime, &endTime, &fs.DurationDays, &isActive,
			&sourceEpisode, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan foresight: %w", err)
		}
		fs.StartTime = ParseTime(startTime)
		if endTime.Valid {
			t := ParseTime(endTime.String)
			fs.EndTime = &t
		}
		fs.IsActive = isActive != 0
		fs.SourceEpisodeID = sourceEpisode.String
		fs.CreatedAt = ParseTime(createdAt)
		out = append(out, &fs)
	}
	return out, rows.Err()
}

// DeactivateForesight marks a foresight as no longer pending.
func (s *Store) DeactivateForesight(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(`UPDATE foresights SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: deactivate foresight: %w", err))
	}
	return nil
}

// HasForesightPrefix reports whether an active foresight shares the
// normalized description prefix. Consolidation's dedupe check.
func (s *Store) HasForesightPrefix(userID, prefix string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM foresights
		WHERE user_id = ? AND is_active = 1 AND LOWER(description) LIKE ?
	`, userID, strings.ToLower(prefix)+"%").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: foresight prefix check: %w", err)
	}
	return count > 0, nil
}
