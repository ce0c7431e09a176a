// Package consolidation implements the sleep cycle: the batch pipeline
// that turns raw conversation sessions into episodes, facts, causal
// links, procedures, foresights, and an updated user profile, plus the
// scheduler that decides when each agent sleeps.
package consolidation

import (
	"strings"
	"time"
)

// Message is one raw conversational turn from the session buffer.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a buffered conversation awaiting consolidation.
type Session struct {
	ID       string    `json:"id"`
	Num      int       `json:"num"`
	Date     time.Time `json:"date"`
	Messages []Message `json:"messages"`
}

// SessionSource supplies raw sessions for a window. The in-memory
// session buffer in the server implements this.
type SessionSource interface {
	SessionsBetween(from, to time.Time) []Session
}

// Segment is one episode-sized slice of a session.
type Segment struct {
	SessionID  string
	Date       time.Time
	Messages   []Message
	Transcript string
}

// segmentation bounds: a segment breaks on a long silence or when it
// reaches the size cap.
const (
	segmentGap      = 30 * time.Minute
	segmentMaxTurns = 12
)

// SegmentSession slices a session into episode-sized chunks.
func SegmentSession(s Session) []Segment {
	if len(s.Messages) == 0 {
		return nil
	}

	var segments []Segment
	var current []Message
	flush := func() {
		if len(current) == 0 {
			return
		}
		segments = append(segments, Segment{
			SessionID:  s.ID,
			Date:       segmentDate(s, current),
			Messages:   current,
			Transcript: renderTranscript(current),
		})
		current = nil
	}

	for i, m := range s.Messages {
		if len(current) > 0 {
			prev := current[len(current)-1]
			gap := !prev.Timestamp.IsZero() && !m.Timestamp.IsZero() &&
				m.Timestamp.Sub(prev.Timestamp) > segmentGap
			if gap || len(current) >= segmentMaxTurns {
				flush()
			}
		}
		current = append(current, s.Messages[i])
	}
	flush()
	return segments
}

// segmentDate prefers the session's annotated date over message stamps.
func segmentDate(s Session, msgs []Message) time.Time {
	if !s.Date.IsZero() {
		return s.Date
	}
	for _, m := range msgs {
		if !m.Timestamp.IsZero() {
			return m.Timestamp
		}
	}
	return time.Time{}
}

// renderTranscript renders messages as "role: content" lines, the form
// the extractors expect.
func renderTranscript(msgs []Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// participants collects the distinct speaker labels in order.
func participants(msgs []Message) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range msgs {
		if !seen[m.Role] {
			seen[m.Role] = true
			out = append(out, m.Role)
		}
	}
	return out
}

// messageIDs collects the ids of the segment's messages.
func messageIDs(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			out = append(out, m.ID)
		}
	}
	return out
}
