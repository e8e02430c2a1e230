package services

import (
	"sync"
	"time"

	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/logger"
	"gorm.io/gorm"
)

// LastSeenTracker batches last-seen timestamps in memory and flushes them
// periodically, keeping per-request writes off the hot path. Touch is safe
// from any goroutine.
type LastSeenTracker struct {
	mu      sync.Mutex
	pending map[uint]time.Time
}

var (
	lastSeenTracker     *LastSeenTracker
	lastSeenTrackerOnce sync.Once
)

func GetLastSeenTracker() *LastSeenTracker {
	lastSeenTrackerOnce.Do(func() {
		lastSeenTracker = &LastSeenTracker{pending: make(map[uint]time.Time)}
	})
	return lastSeenTracker
}

// Touch records activity for the user. Later touches win.
func (t *LastSeenTracker) Touch(userID uint) {
	t.mu.Lock()
	t.pending[userID] = time.Now()
	t.mu.Unlock()
}

// Flush writes all pending timestamps and clears the buffer. Called from
// the maintenance scheduler.
func (t *LastSeenTracker) Flush(db *gorm.DB) {
	t.mu.Lock()
	batch := t.pending
	t.pending = make(map[uint]time.Time)
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	for userID, seen := range batch {
		if err := db.Model(&models.User{}).Where("id = ?", userID).
			Update("last_seen", seen).Error; err != nil {
			logger.Errorf("[LastSeen] flush for user %d failed: %v", userID, err)
		}
	}
	logger.Infof("[LastSeen] Flushed %d users", len(batch))
}
