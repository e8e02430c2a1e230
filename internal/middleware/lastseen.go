package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/planforge/backend/internal/services"
)

// TrackLastSeen buffers an activity timestamp for authenticated requests.
// The buffer is flushed to the database by the maintenance scheduler, so
// this adds no write on the request path.
func TrackLastSeen() gin.HandlerFunc {
	tracker := services.GetLastSeenTracker()
	return func(c *gin.Context) {
		if userID := GetUserID(c); userID != 0 {
			tracker.Touch(userID)
		}
		c.Next()
	}
}
