package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"opencat/internal/config"
	"opencat/pkg/logging"
)

var (
	DB          *gorm.DB
	RedisClient *redis.Client
)

// InitDatabase initializes the relational store and the Redis cache/pubsub
// connection, and runs the schema migration, generalizing the teacher's
// InitDatabase to OpenCat's model set.
func InitDatabase() error {
	if err := initRelational(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := initRedis(); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	if config.AppConfig.AutoMigrate {
		if err := DB.AutoMigrate(AllModels()...); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return nil
}

func initRelational() error {
	var err error
	dsn := config.AppConfig.DatabaseURL

	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	}

	if dsn == "" {
		logging.Infof("Database URL not set, using SQLite for development")
		DB, err = gorm.Open(sqlite.Open("opencat.db"), gormCfg)
	} else {
		DB, err = gorm.Open(postgres.Open(dsn), gormCfg)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	logging.Infof("Database connected successfully")
	return nil
}

func initRedis() error {
	opt, err := redis.ParseURL(config.AppConfig.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	RedisClient = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Infof("Redis connected successfully")
	return nil
}

// GetDB returns the shared database handle.
func GetDB() *gorm.DB {
	return DB
}

// GetRedis returns the shared Redis client.
func GetRedis() *redis.Client {
	return RedisClient
}

// Close closes both the relational and Redis connections, draining
// in-flight operations is the caller's responsibility before calling this.
func Close() error {
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logging.Errorf("Failed to close database: %v", err)
			}
		}
	}
	if RedisClient != nil {
		if err := RedisClient.Close(); err != nil {
			logging.Errorf("Failed to close Redis: %v", err)
		}
	}
	return nil
}

// EventChannel is the Redis pub/sub channel the Receipt Pipeline publishes
// to when new events exist for an app, and the Webhook Dispatcher
// subscribes to as its wake signal (spec §4.4 step 6, §4.5).
func EventChannel(appID string) string {
	return "opencat:events:" + appID
}

// PublishEventSignal is a best-effort notification; delivery is never
// depended on for correctness since the dispatcher also polls.
func PublishEventSignal(ctx context.Context, appID string) {
	if RedisClient == nil {
		return
	}
	if err := RedisClient.Publish(ctx, EventChannel(appID), "1").Err(); err != nil {
		logging.Warnf("failed to publish event signal for app %s: %v", appID, err)
	}
}
