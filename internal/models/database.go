package models

import (
	"fmt"

	"github.com/planforge/backend/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	DB = db
	return nil
}

func AutoMigrate() error {
	return DB.AutoMigrate(
		&User{},
		&SubscriptionPlan{},
		&Project{},
		&ProjectMembership{},
		&ProjectInvitation{},
		&Task{},
		&TaskAssignment{},
		&StatusChangeRequest{},
		&Comment{},
		&CommentMention{},
		&Notification{},
		&NotificationPreference{},
	)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates the built-in subscription plans if none exist.
func SeedDefaultData() error {
	var planCount int64
	DB.Model(&SubscriptionPlan{}).Count(&planCount)
	if planCount > 0 {
		return nil
	}

	plans := []SubscriptionPlan{
		{
			Name:                 "free",
			MaxProjects:          3,
			MaxMembersPerProject: 5,
			PriceCents:           0,
			IsDefault:            true,
		},
		{
			Name:                 "pro",
			MaxProjects:          25,
			MaxMembersPerProject: 25,
			PriceCents:           900,
		},
		{
			Name:                 "business",
			MaxProjects:          200,
			MaxMembersPerProject: 100,
			PriceCents:           2900,
		},
	}

	for i := range plans {
		if err := DB.Create(&plans[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

// DefaultPlan returns the plan applied to users without an explicit one.
func DefaultPlan() (*SubscriptionPlan, error) {
	var plan SubscriptionPlan
	if err := DB.Where("is_default = ?", true).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}
