package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lumenclass/inviteledger/internal/services"
	"github.com/lumenclass/inviteledger/pkg/logger"
)

const (
	defaultRetentionDays = 30
	defaultExpirySpec    = "@hourly"
	defaultDispatchSpec  = "@every 1m"
	defaultCleanupSpec   = "@daily"
)

// Sweeper coordinates background maintenance: expiring stale credits,
// releasing quiet-hours notification deferrals, and pruning old messages.
type Sweeper struct {
	credits       *services.CreditService
	notifications *services.NotificationService
	cron          *cron.Cron
	now           func() time.Time
	log           *zap.Logger
	enabled       bool
	retention     int

	expirySchedule   string
	dispatchSchedule string
	cleanupSchedule  string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(sweeper *Sweeper) {
		if c != nil {
			sweeper.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling comparisons.
func WithNow(now func() time.Time) Option {
	return func(sweeper *Sweeper) {
		if now != nil {
			sweeper.now = now
		}
	}
}

// WithRetentionDays adjusts how long delivered notifications are retained.
func WithRetentionDays(days int) Option {
	return func(sweeper *Sweeper) {
		if days > 0 {
			sweeper.retention = days
		}
	}
}

// WithExpirySchedule overrides the cron expression for the credit expiry sweep.
func WithExpirySchedule(spec string) Option {
	return func(sweeper *Sweeper) {
		if spec != "" {
			sweeper.expirySchedule = spec
		}
	}
}

// WithDispatchSchedule overrides the cron expression for releasing deferred notifications.
func WithDispatchSchedule(spec string) Option {
	return func(sweeper *Sweeper) {
		if spec != "" {
			sweeper.dispatchSchedule = spec
		}
	}
}

// WithCleanupSchedule overrides the cron expression for notification retention enforcement.
func WithCleanupSchedule(spec string) Option {
	return func(sweeper *Sweeper) {
		if spec != "" {
			sweeper.cleanupSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewSweeper(credits *services.CreditService, notifications *services.NotificationService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		credits:          credits,
		notifications:    notifications,
		now:              time.Now,
		retention:        defaultRetentionDays,
		expirySchedule:   defaultExpirySpec,
		dispatchSchedule: defaultDispatchSpec,
		cleanupSchedule:  defaultCleanupSpec,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	sweeper.enabled = sweeper.credits != nil || sweeper.notifications != nil

	return sweeper
}

// Start registers the sweep jobs with the cron scheduler and launches it if at
// least one job is enabled.
func (s *Sweeper) Start() error {
	if !s.enabled {
		return nil
	}

	if s.credits != nil {
		if _, err := s.cron.AddFunc(s.expirySchedule, func() {
			ctx := context.Background()
			if _, err := s.credits.ExpireAll(ctx); err != nil {
				s.log.Warn("credit expiry sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.notifications != nil {
		if _, err := s.cron.AddFunc(s.dispatchSchedule, func() {
			ctx := context.Background()
			if _, err := s.notifications.DispatchDue(ctx); err != nil {
				s.log.Warn("notification dispatch sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}

		if s.retention > 0 {
			if _, err := s.cron.AddFunc(s.cleanupSchedule, func() {
				ctx := context.Background()
				if _, err := s.notifications.CleanupExpired(ctx, s.retention); err != nil {
					s.log.Warn("notification cleanup failed", zap.Error(err))
				}
			}); err != nil {
				return err
			}
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all configured sweeps sequentially. Primarily used in tests
// and during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.credits != nil {
		if _, err := s.credits.ExpireAll(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.notifications != nil {
		if _, err := s.notifications.DispatchDue(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
		if s.retention > 0 {
			if _, err := s.notifications.CleanupExpired(ctx, s.retention); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}

	return errs
}
