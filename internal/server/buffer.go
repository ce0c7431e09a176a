// Package server hosts the recall service HTTP surface and the
// in-memory session buffer feeding consolidation.
package server

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kittclouds/sheep/pkg/consolidation"
)

// SessionBuffer accumulates raw chat messages per session until a
// consolidation run drains the window. Thread-safe for concurrent
// request handlers.
type SessionBuffer struct {
	mu       sync.RWMutex
	agentID  string
	sessions map[string]*bufferedSession
	nextNum  int
	lastSeen time.Time
}

type bufferedSession struct {
	id       string
	num      int
	date     time.Time
	messages []consolidation.Message
	lastMsg  time.Time
}

// NewSessionBuffer creates an empty buffer for one agent.
func NewSessionBuffer(agentID string) *SessionBuffer {
	return &SessionBuffer{
		agentID:  agentID,
		sessions: make(map[string]*bufferedSession),
		nextNum:  1,
	}
}

// Append adds a message to a session, creating the session on first
// sight. A zero timestamp takes the current time.
func (b *SessionBuffer) Append(sessionID, role, content string, ts time.Time) consolidation.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sessionID == "" {
		sessionID = "default"
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	sess, ok := b.sessions[sessionID]
	if !ok {
		sess = &bufferedSession{id: sessionID, num: b.nextNum, date: ts}
		b.nextNum++
		b.sessions[sessionID] = sess
	}

	msg := consolidation.Message{
		ID:        fmt.Sprintf("%s-m%d", sessionID, len(sess.messages)+1),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	}
	sess.messages = append(sess.messages, msg)
	sess.lastMsg = ts
	b.lastSeen = time.Now().UTC()
	return msg
}

// SetSessionDates applies the sessionNum -> dateString annotations the
// consolidate endpoint accepts, grounding relative-time resolution.
func (b *SessionBuffer) SetSessionDates(dates map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byNum := map[int]time.Time{}
	for numStr, dateStr := range dates {
		num, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		if t, err := parseLooseDate(dateStr); err == nil {
			byNum[num] = t
		}
	}
	for _, sess := range b.sessions {
		if t, ok := byNum[sess.num]; ok {
			sess.date = t
		}
	}
}

// parseLooseDate accepts the date forms clients send.
func parseLooseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2 January 2006", "January 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("server: unparseable date %q", s)
}

// SessionsBetween implements consolidation.SessionSource: sessions whose
// last message falls inside the window.
func (b *SessionBuffer) SessionsBetween(from, to time.Time) []consolidation.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []consolidation.Session
	for _, sess := range b.sessions {
		if !from.IsZero() && !sess.lastMsg.After(from) {
			continue
		}
		if !to.IsZero() && sess.lastMsg.After(to) {
			continue
		}
		out = append(out, consolidation.Session{
			ID:       sess.id,
			Num:      sess.num,
			Date:     sess.date,
			Messages: append([]consolidation.Message(nil), sess.messages...),
		})
	}
	return out
}

// Transcript implements recall.TranscriptSource: the session's raw
// conversation with a session-date marker.
func (b *SessionBuffer) Transcript(sessionID string) (string, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sess, ok := b.sessions[sessionID]
	if !ok || len(sess.messages) == 0 {
		return "", "", false
	}

	date := sess.date.Format("2 January 2006")
	text := fmt.Sprintf("[Session %d - %s]\n", sess.num, date)
	for _, m := range sess.messages {
		text += m.Role + ": " + m.Content + "\n"
	}
	return text, date, true
}

// Agents implements consolidation.ActivityReporter for the hosting
// process's single agent.
func (b *SessionBuffer) Agents() []string {
	return []string{b.agentID}
}

// LastActivity reports the last time any session received a message.
func (b *SessionBuffer) LastActivity(agentID string) time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if agentID != b.agentID {
		return time.Time{}
	}
	return b.lastSeen
}
