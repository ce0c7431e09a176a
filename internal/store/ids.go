package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID prefixes, one per entity kind.
const (
	PrefixEpisode      = "ep-"
	PrefixFact         = "fact-"
	PrefixCausalLink   = "cl-"
	PrefixProcedure    = "proc-"
	PrefixChange       = "mc-"
	PrefixRun          = "cr-"
	PrefixForesight    = "fs-"
	PrefixPreference   = "pref-"
	PrefixRelationship = "rel-"
	PrefixCoreMemory   = "cm-"
	PrefixProfile      = "up-"
)

// NewID returns a globally unique identifier under the given prefix.
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}

// HasPrefix reports whether id carries the given entity prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix)
}

// nowUTC is the single clock source for the store.
func nowUTC() time.Time {
	return time.Now().UTC()
}

// timeLayout is the wall-clock storage format. Fixed-width milliseconds
// keep lexical order equal to chronological order inside SQLite.
const timeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the store's canonical UTC format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime reads a stored timestamp; zero time on empty input.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Older rows may carry plain RFC3339.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
