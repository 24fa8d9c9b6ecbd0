package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/lumenclass/inviteledger/internal/api"
	"github.com/lumenclass/inviteledger/internal/app"
	"github.com/lumenclass/inviteledger/internal/app/maintenance"
	"github.com/lumenclass/inviteledger/internal/cache"
	"github.com/lumenclass/inviteledger/internal/database"
	"github.com/lumenclass/inviteledger/internal/dispatch"
	"github.com/lumenclass/inviteledger/internal/middleware"
	"github.com/lumenclass/inviteledger/internal/models"
	"github.com/lumenclass/inviteledger/internal/services"
	"github.com/lumenclass/inviteledger/pkg/logger"
	"github.com/lumenclass/inviteledger/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     cache.Store
	Sweeper   *maintenance.Sweeper
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, cache, domain services, background
// sweeps, and the HTTP router.
func bootstrapRuntime(_ context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	credits, err := services.NewCreditService(stack.DB,
		services.WithCreditExpiryDays(cfg.Credits.ExpiryDays))
	if err != nil {
		return nil, fmt.Errorf("initialise credit service: %w", err)
	}

	rewards, err := services.NewRewardService(stack.DB, credits,
		services.WithStackingPolicy(services.StackingPolicy(cfg.Rewards.StackingPolicy)),
		services.WithAutoApproveLimit(cfg.Rewards.AutoApproveLimit))
	if err != nil {
		return nil, fmt.Errorf("initialise reward service: %w", err)
	}

	var notifications *services.NotificationService
	if cfg.Notifications.Enabled {
		dispatcher, err := buildDispatcher(cfg, stack.DB)
		if err != nil {
			return nil, err
		}
		notifications, err = services.NewNotificationService(stack.DB, dispatcher)
		if err != nil {
			return nil, fmt.Errorf("initialise notification service: %w", err)
		}
	} else {
		notifications, err = services.NewNotificationService(stack.DB, nil)
		if err != nil {
			return nil, fmt.Errorf("initialise notification service: %w", err)
		}
	}

	dedupStore := cache.Store(dbStore)
	if stack.Redis != nil {
		dedupStore = stack.Redis
	}
	events, err := services.NewEventProcessor(stack.DB, rewards, notifications,
		services.WithFingerprintDedup(dedupStore, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("initialise event processor: %w", err)
	}

	stack.Sweeper = maintenance.NewSweeper(credits, notifications,
		maintenance.WithRetentionDays(cfg.Notifications.RetentionDays),
		maintenance.WithExpirySchedule(cfg.Maintenance.CreditExpirySchedule),
		maintenance.WithDispatchSchedule(cfg.Maintenance.NotificationDispatchSchedule),
		maintenance.WithCleanupSchedule(cfg.Maintenance.NotificationCleanupSchedule),
	)
	if err := stack.Sweeper.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	switch {
	case stack.Redis != nil:
		stack.RateStore = middleware.NewRedisRateStore(stack.Redis)
	case dbStore != nil:
		stack.RateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	stack.Router, err = api.NewRouter(stack.DB, cfg, api.Services{
		Credits:       credits,
		Rewards:       rewards,
		Notifications: notifications,
		Events:        events,
	}, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildDispatcher wires the notification channels. In-app delivery is always
// available; email joins when SMTP is configured, and sms/push fall back to
// logging until a provider integration exists.
func buildDispatcher(cfg *app.Config, db *gorm.DB) (*dispatch.Dispatcher, error) {
	senders := []dispatch.Sender{
		dispatch.InAppSender{},
		dispatch.NewLogSender(models.ChannelSMS),
		dispatch.NewLogSender(models.ChannelPush),
	}

	if cfg.Email.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		emailSender, err := dispatch.NewEmailSender(mailer, cfg.Email.SMTP.From, resolveUserEmail(db))
		if err != nil {
			return nil, err
		}
		senders = append(senders, emailSender)
	}

	return dispatch.NewDispatcher(senders...), nil
}

// resolveUserEmail looks up the delivery address pushed by the upstream
// account system into the contacts table.
func resolveUserEmail(db *gorm.DB) dispatch.AddressResolver {
	return func(ctx context.Context, userID string) (string, error) {
		var address string
		err := db.WithContext(ctx).
			Model(&models.UserContact{}).
			Where("user_id = ?", userID).
			Limit(1).
			Pluck("email", &address).Error
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(address), nil
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := cfg.Database.DatabaseOpenConfig()
	dbCfg.Driver = strings.ToLower(strings.TrimSpace(dbCfg.Driver))

	switch dbCfg.Driver {
	case "":
		dbCfg.Driver = "sqlite"
	case "postgresql":
		dbCfg.Driver = "postgres"
	}

	return dbCfg
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Sweeper != nil {
		stopCtx := s.Sweeper.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Sweeper.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown sweep failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
