package recall

import (
	"sync"

	"github.com/kittclouds/sheep/internal/store"
)

// caches holds the two per-session derived views of the store: the fact
// cache and the entity-keyword index. Both are invalidated synchronously
// by any fact write; the store's write hook calls InvalidateAll before
// the write returns.
type caches struct {
	mu       sync.Mutex
	sessions map[string][]*store.Fact
	entities *EntityIndex
}

func newCaches(s *store.Store) *caches {
	c := &caches{sessions: make(map[string][]*store.Fact)}
	s.SubscribeFactWrites(c.InvalidateAll)
	return c
}

// InvalidateAll drops every cached view.
func (c *caches) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string][]*store.Fact)
	c.entities = nil
}

// SessionFacts returns the session's cached active fact snapshot,
// loading it on miss.
func (c *caches) SessionFacts(s *store.Store, sessionID string) ([]*store.Fact, error) {
	c.mu.Lock()
	if cached, ok := c.sessions[sessionID]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	facts, err := s.ActiveFacts()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[sessionID] = facts
	c.mu.Unlock()
	return facts, nil
}

// EntityIndex returns the cached entity-keyword index, building it on
// miss.
func (c *caches) EntityIndex(s *store.Store) (*EntityIndex, error) {
	c.mu.Lock()
	if c.entities != nil {
		idx := c.entities
		c.mu.Unlock()
		return idx, nil
	}
	c.mu.Unlock()

	facts, err := s.ActiveFacts()
	if err != nil {
		return nil, err
	}
	idx, err := BuildEntityIndex(facts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entities = idx
	c.mu.Unlock()
	return idx, nil
}
