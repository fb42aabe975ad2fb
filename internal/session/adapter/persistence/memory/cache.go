package memory

import (
	"sort"
	"sync"

	"session-registry/internal/session/domain/model"
)

// Cache is the process-local session map. Stored sessions are never mutated in
// place: Set publishes a private copy and Get hands out a copy.
type Cache struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{sessions: make(map[string]*model.Session)}
}

// Get returns a copy of the session stored under sessionID.
func (c *Cache) Get(sessionID string) (*model.Session, bool) {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Set replaces the whole session stored under session.SessionID.
func (c *Cache) Set(session *model.Session) {
	if session == nil {
		return
	}
	stored := session.Clone()
	if stored.Records == nil {
		stored.Records = []model.Record{}
	}

	c.mu.Lock()
	c.sessions[stored.SessionID] = stored
	c.mu.Unlock()
}

// SessionIDs returns every cached session id in sorted order.
func (c *Cache) SessionIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of cached session entries, empty ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}
