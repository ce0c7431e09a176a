package store

import (
	"database/sql"
	"fmt"
	"time"
)

const episodeColumns = `id, ts, summary, participants, topic, keywords,
	emotional_salience, utility_score, session_id, message_ids, ttl,
	access_count, last_accessed, created_at`

// InsertEpisode stores a new episode. ID and CreatedAt are assigned if
// missing.
func (s *Store) InsertEpisode(ep *Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	if ep.ID == "" {
		ep.ID = NewID(PrefixEpisode)
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = nowUTC()
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = ep.CreatedAt
	}
	if ep.TTL == "" {
		ep.TTL = TTL30Days
	}
	if ep.LastAccessed.IsZero() {
		ep.LastAccessed = ep.CreatedAt
	}

	_, err := s.db.Exec(`
		INSERT INTO episodes (`+episodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ep.ID, FormatTime(ep.Timestamp), ep.Summary,
		marshalList(ep.Participants), ep.Topic, marshalList(ep.Keywords),
		ep.EmotionalSalience, ep.UtilityScore, ep.SessionID,
		marshalList(ep.MessageIDs), string(ep.TTL),
		ep.AccessCount, FormatTime(ep.LastAccessed), FormatTime(ep.CreatedAt))
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: insert episode: %w", err))
	}
	return nil
}

// GetEpisode retrieves an episode by id.
func (s *Store) GetEpisode(id string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	return scanEpisode(row)
}

// ListEpisodes returns episodes in a time window, newest first.
// A zero bound is open.
func (s *Store) ListEpisodes(from, to time.Time, limit int) ([]*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 500
	}
	fromS, toS := "", "9999"
	if !from.IsZero() {
		fromS = FormatTime(from)
	}
	if !to.IsZero() {
		toS = FormatTime(to)
	}

	rows, err := s.db.Query(`
		SELECT `+episodeColumns+` FROM episodes
		WHERE ts >= ? AND ts <= ?
		ORDER BY ts DESC LIMIT ?
	`, fromS, toS, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// ListEpisodesBySession returns a session's episodes in chronological order.
func (s *Store) ListEpisodesBySession(sessionID string) ([]*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+episodeColumns+` FROM episodes
		WHERE session_id = ? ORDER BY ts ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list session episodes: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// TouchEpisode records an access: bumps the counter and timestamp.
func (s *Store) TouchEpisode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		UPDATE episodes SET access_count = access_count + 1, last_accessed = ?
		WHERE id = ?
	`, FormatTime(nowUTC()), id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: touch episode: %w", err))
	}
	return nil
}

// UpdateEpisodeScores adjusts salience and utility, the only mutable
// scoring fields on an episode.
func (s *Store) UpdateEpisodeScores(id string, salience, utility float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		UPDATE episodes SET emotional_salience = ?, utility_score = ?
		WHERE id = ?
	`, clamp01(salience), clamp01(utility), id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: update episode scores: %w", err))
	}
	return nil
}

// DeleteEpisode removes an episode. Episode deletion is hard.
func (s *Store) DeleteEpisode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	_, err := s.db.Exec(`DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: delete episode: %w", err))
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var ep Episode
	var ts, participants, keywords, messageIDs, ttl, lastAccessed, createdAt string
	var topic, sessionID sql.NullString

	err := row.Scan(&ep.ID, &ts, &ep.Summary, &participants, &topic, &keywords,
		&ep.EmotionalSalience, &ep.UtilityScore, &sessionID, &messageIDs, &ttl,
		&ep.AccessCount, &lastAccessed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan episode: %w", err)
	}

	ep.Timestamp = ParseTime(ts)
	ep.Participants = unmarshalList(participants)
	ep.Keywords = unmarshalList(keywords)
	ep.MessageIDs = unmarshalList(messageIDs)
	ep.TTL = TTLBucket(ttl)
	ep.LastAccessed = ParseTime(lastAccessed)
	ep.CreatedAt = ParseTime(createdAt)
	ep.Topic = topic.String
	ep.SessionID = sessionID.String
	return &ep, nil
}

func scanEpisodes(rows *sql.Rows) ([]*Episode, error) {
	var out []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}
