package store

import (
	"database/sql"
	"fmt"
	"time"
)

const changeColumns = `id, change_type, target_type, target_id,
	previous_value, new_value, reason, trigger_episode_id, run_id, ts`

// recordChange appends a change row. Must be called with s.mu held for
// writing. Change rows are never mutated afterwards.
func (s *Store) recordChange(c *MemoryChange) error {
	if c.ID == "" {
		c.ID = NewID(PrefixChange)
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = nowUTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO memory_changes (`+changeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, string(c.ChangeType), c.TargetType, c.TargetID,
		c.PreviousValue, c.NewValue, c.Reason, c.TriggerEpisodeID,
		c.RunID, FormatTime(c.Timestamp))
	if err != nil {
		return s.checkFatal(fmt.Errorf("store: record change: %w", err))
	}
	return nil
}

// RecordChange appends a change entry to the differential log.
func (s *Store) RecordChange(c *MemoryChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	return s.recordChange(c)
}

// ChangesSince returns all change entries after t, oldest first.
func (s *Store) ChangesSince(t time.Time) ([]*MemoryChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+changeColumns+` FROM memory_changes
		WHERE ts > ? ORDER BY ts ASC
	`, FormatTime(t))
	if err != nil {
		return nil, fmt.Errorf("store: changes since: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

// ChangesForTarget returns the change history of one entity, oldest first.
func (s *Store) ChangesForTarget(targetID string) ([]*MemoryChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+changeColumns+` FROM memory_changes
		WHERE target_id = ? ORDER BY ts ASC
	`, targetID)
	if err != nil {
		return nil, fmt.Errorf("store: changes for target: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

// QueryFactsAtTime reconstructs the active belief set as of asOf:
// facts created at or before asOf, excluding those with a retract change
// at or before asOf, with object/confidence replaced by the latest
// modify change at or before asOf.
func (s *Store) QueryFactsAtTime(asOf time.Time, filter FactFilter) ([]*Fact, error) {
	filter.ActiveOnly = false
	facts, err := s.QueryFacts(filter)
	if err != nil {
		return nil, err
	}

	cutoff := FormatTime(asOf)
	var out []*Fact
	for _, f := range facts {
		if f.CreatedAt.After(asOf) {
			continue
		}
		changes, err := s.ChangesForTarget(f.ID)
		if err != nil {
			return nil, err
		}

		retracted := false
		var lastModify *MemoryChange
		for _, c := range changes {
			if FormatTime(c.Timestamp) > cutoff {
				continue
			}
			switch c.ChangeType {
			case ChangeRetract:
				retracted = true
			case ChangeModify:
				lastModify = c
			}
		}
		if retracted {
			continue
		}

		snapshot := *f
		snapshot.IsActive = true
		if lastModify == nil {
			// Roll back to the creation value: later modifies already
			// rewrote the live row.
			if created := firstCreate(changes); created != nil {
				if v, ok := decodeFactValue(created.NewValue); ok {
					snapshot.Object = v.Object
					snapshot.Confidence = v.Confidence
				}
			}
		} else if v, ok := decodeFactValue(lastModify.NewValue); ok {
			snapshot.Object = v.Object
			snapshot.Confidence = v.Confidence
		}
		out = append(out, &snapshot)
	}
	return out, nil
}

func firstCreate(changes []*MemoryChange) *MemoryChange {
	for _, c := range changes {
		if c.ChangeType == ChangeCreate {
			return c
		}
	}
	return nil
}

// BeliefTimeline returns the chronological evolution of beliefs about a
// subject: one created event per fact, plus one updated/retracted event
// per recorded change.
func (s *Store) BeliefTimeline(subject string) ([]*TimelineEvent, error) {
	facts, err := s.QueryFacts(FactFilter{Subject: subject})
	if err != nil {
		return nil, err
	}

	var events []*TimelineEvent
	for _, f := range facts {
		events = append(events, &TimelineEvent{
			Kind:       TimelineCreated,
			FactID:     f.ID,
			Predicate:  f.Predicate,
			Value:      initialObject(f, s),
			Confidence: f.Confidence,
			Timestamp:  f.CreatedAt,
		})

		changes, err := s.ChangesForTarget(f.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range changes {
			switch c.ChangeType {
			case ChangeModify, ChangeStrengthen, ChangeWeaken:
				ev := &TimelineEvent{
					Kind:      TimelineUpdated,
					FactID:    f.ID,
					Predicate: f.Predicate,
					Reason:    c.Reason,
					Timestamp: c.Timestamp,
				}
				if v, ok := decodeFactValue(c.NewValue); ok {
					ev.Value = v.Object
					ev.Confidence = v.Confidence
				}
				events = append(events, ev)
			case ChangeRetract:
				events = append(events, &TimelineEvent{
					Kind:      TimelineRetracted,
					FactID:    f.ID,
					Predicate: f.Predicate,
					Value:     f.Object,
					Reason:    c.Reason,
					Timestamp: c.Timestamp,
				})
			}
		}
	}

	sortTimeline(events)
	return events, nil
}

// initialObject recovers a fact's object at creation from its create
// change; falls back to the live row.
func initialObject(f *Fact, s *Store) string {
	changes, err := s.ChangesForTarget(f.ID)
	if err == nil {
		if created := firstCreate(changes); created != nil {
			if v, ok := decodeFactValue(created.NewValue); ok {
				return v.Object
			}
		}
	}
	return f.Object
}

func sortTimeline(events []*TimelineEvent) {
	// Insertion sort: timelines are short and mostly ordered already.
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Timestamp.Before(events[j-1].Timestamp); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

func scanChanges(rows *sql.Rows) ([]*MemoryChange, error) {
	var out []*MemoryChange
	for rows.Next() {
		var c MemoryChange
		var changeType, ts string
		var prev, next, reason, trigger, runID sql.NullString

		if err := rows.Scan(&c.ID, &changeType, &c.TargetType, &c.TargetID,
			&prev, &next, &reason, &trigger, &runID, &ts); err != nil {
			return nil, fmt.Errorf("store: scan change: %w", err)
		}
		c.ChangeType = ChangeType(changeType)
		c.PreviousValue = prev.String
		c.NewValue = next.String
		c.Reason = reason.String
		c.TriggerEpisodeID = trigger.String
		c.RunID = runID.String
		c.Timestamp = ParseTime(ts)
		out = append(out, &c)
	}
	return out, rows.Err()
}
