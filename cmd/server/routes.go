package main

import (
	"github.com/gin-gonic/gin"
	"github.com/planforge/backend/internal/middleware"
	"github.com/planforge/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.CORSOrigins...))

	// Rate limiter for request-creating endpoints
	writeLimiter := middleware.NewRateLimiter(5, 10)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "planforge",
			"online":  svc.hub.OnlineUsers(),
		})
	})

	// Realtime notification channel (token carried in query string)
	r.GET("/ws/notifications", svc.wsHandler.Connect)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/login", svc.authHandler.Login)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), middleware.TrackLastSeen())
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.Me)

			// Projects
			protected.GET("/projects", svc.projectHandler.List)
			protected.GET("/projects/:id", svc.projectHandler.GetByID)
			protected.POST("/projects", svc.projectHandler.Create)
			protected.PUT("/projects/:id", svc.projectHandler.Update)
			protected.PUT("/projects/:id/status", svc.projectHandler.UpdateStatus)
			protected.DELETE("/projects/:id", svc.projectHandler.Delete)

			// Members and invitations
			protected.GET("/projects/:id/members", svc.memberHandler.List)
			protected.POST("/projects/:id/invitations", svc.memberHandler.Invite)
			protected.DELETE("/projects/:id/members/:userId", svc.memberHandler.Remove)
			protected.POST("/invitations/:token/accept", svc.memberHandler.Accept)

			// Tasks
			protected.GET("/tasks", svc.taskHandler.List)
			protected.GET("/tasks/:id", svc.taskHandler.GetByID)
			protected.POST("/tasks", svc.taskHandler.Create)
			protected.PUT("/tasks/:id/assignees", svc.taskHandler.UpdateAssignees)
			protected.PUT("/tasks/:id/status", svc.taskHandler.UpdateStatus)
			protected.DELETE("/tasks/:id", svc.taskHandler.Delete)

			// Completion approval workflow
			protected.POST("/tasks/:id/requests", writeLimiter.PerUser(), svc.approvalHandler.Request)
			protected.GET("/requests/pending", svc.approvalHandler.ListPending)
			protected.PUT("/requests/bulk", svc.approvalHandler.BulkResolve)
			protected.PUT("/requests/:id", svc.approvalHandler.Resolve)

			// Comments
			protected.GET("/tasks/:id/comments", svc.commentHandler.ListByTask)
			protected.POST("/comments", writeLimiter.PerUser(), svc.commentHandler.Create)
			protected.DELETE("/comments/:id", svc.commentHandler.Delete)

			// Notifications
			protected.GET("/notifications", svc.notificationHandler.List)
			protected.PUT("/notifications/:id/read", svc.notificationHandler.MarkRead)
			protected.POST("/notifications/:id/resend", svc.notificationHandler.Resend)
			protected.PUT("/notifications/preferences", svc.notificationHandler.UpdatePreferences)
		}

		// Admin only routes
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.PUT("/projects/:id/override", svc.projectHandler.SetAdminOverride)
		}
	}
}
