package main

import (
	"context"

	"github.com/planforge/backend/internal/config"
	"github.com/planforge/backend/internal/gateway"
	"github.com/planforge/backend/internal/handlers"
	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/internal/services"
	"github.com/planforge/backend/internal/utils"
	"github.com/planforge/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg                 *config.Config
	hub                 *gateway.Hub
	notificationService *services.NotificationService
	maintenanceService  *services.MaintenanceService
	taskQueue           services.TaskQueue
	worker              *services.Worker

	authHandler         *handlers.AuthHandler
	projectHandler      *handlers.ProjectHandler
	memberHandler       *handlers.MemberHandler
	taskHandler         *handlers.TaskHandler
	approvalHandler     *handlers.ApprovalHandler
	commentHandler      *handlers.CommentHandler
	notificationHandler *handlers.NotificationHandler
	wsHandler           *handlers.WSHandler
}

// bootstrap initializes all application dependencies: database, gateway,
// services, queue and schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default subscription plans
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()
	hub := gateway.GetHub()

	// Task queue for deferred retries (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)

	ledger := services.NewLedgerService(db)
	notificationService := services.NewNotificationService(db, hub, taskQueue, &cfg.Notification)

	retryProcessor := func(ctx context.Context, notificationID uint) error {
		return notificationService.Resend(notificationID)
	}
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(retryProcessor)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(retryProcessor)
			worker.Start()
		}
	}

	emailService := services.NewEmailService(cfg.Email)
	authService := services.NewAuthService(db, cfg)
	projectService := services.NewProjectService(db, ledger, notificationService)
	membershipService := services.NewMembershipService(db, ledger, notificationService, emailService)
	taskService := services.NewTaskService(db, ledger, notificationService)
	approvalService := services.NewApprovalService(db, ledger, notificationService)
	commentService := services.NewCommentService(db, notificationService)

	maintenanceService := services.NewMaintenanceService(db, notificationService, ledger, cfg)
	maintenanceService.StartScheduler()

	return &appServices{
		cfg:                 cfg,
		hub:                 hub,
		notificationService: notificationService,
		maintenanceService:  maintenanceService,
		taskQueue:           taskQueue,
		worker:              worker,

		authHandler:         handlers.NewAuthHandler(db, authService),
		projectHandler:      handlers.NewProjectHandler(projectService),
		memberHandler:       handlers.NewMemberHandler(membershipService),
		taskHandler:         handlers.NewTaskHandler(taskService),
		approvalHandler:     handlers.NewApprovalHandler(approvalService),
		commentHandler:      handlers.NewCommentHandler(commentService),
		notificationHandler: handlers.NewNotificationHandler(db, notificationService),
		wsHandler:           handlers.NewWSHandler(hub, cfg),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.maintenanceService.StopScheduler()

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}

	// Final flush so buffered activity survives restarts.
	services.GetLastSeenTracker().Flush(models.GetDB())
	logger.Info().Msg("All services stopped")
}
