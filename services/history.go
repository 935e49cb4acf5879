package services

import (
	"sync"

	"trauma-chat/models"
)

// HistoryCache keeps a bounded list of recent turns per conversation key.
// It is a best-effort fallback for callers that supply no persisted
// history, never a source of truth; entries are lost on restart.
type HistoryCache struct {
	mu    sync.Mutex
	limit int
	turns map[string][]models.Turn
}

// NewHistoryCache creates a cache whose per-key lists are trimmed to limit.
func NewHistoryCache(limit int) *HistoryCache {
	return &HistoryCache{
		limit: limit,
		turns: make(map[string][]models.Turn),
	}
}

// Turns returns a copy of the list for key, creating an empty entry if the
// key is new.
func (c *HistoryCache) Turns(key string) []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.turns[key]
	if !ok {
		c.turns[key] = []models.Turn{}
		return []models.Turn{}
	}

	out := make([]models.Turn, len(entry))
	copy(out, entry)
	return out
}

// Append adds turns to the key's list and trims the oldest entries once
// the list exceeds the limit.
func (c *HistoryCache) Append(key string, turns ...models.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := append(c.turns[key], turns...)
	if len(entry) > c.limit {
		entry = entry[len(entry)-c.limit:]
	}
	c.turns[key] = entry
}

// Clear removes the key entirely.
func (c *HistoryCache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.turns, key)
}

// Len reports the number of turns cached for key.
func (c *HistoryCache) Len(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns[key])
}
