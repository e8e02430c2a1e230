package services

import (
	"sync"

	"github.com/planforge/backend/internal/models"
)

// projectCache is an in-process read-through cache of project rows.
// Entries are invalidated explicitly on every project write, so a read
// never observes a stale status for a mutation made through this process.
type projectCache struct {
	mu      sync.RWMutex
	entries map[uint]*models.Project
}

func newProjectCache() *projectCache {
	return &projectCache{entries: make(map[uint]*models.Project)}
}

func (c *projectCache) get(id uint) (*models.Project, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[id]
	return p, ok
}

func (c *projectCache) set(p *models.Project) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *p
	c.entries[p.ID] = &copied
}

func (c *projectCache) invalidate(id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
