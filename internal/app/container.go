// Package app wires the scheduler's dependency graph from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	calendarApp "github.com/diaguru/diaguru/internal/calendar/application"
	"github.com/diaguru/diaguru/internal/calendar/infrastructure/caldav"
	"github.com/diaguru/diaguru/internal/calendar/infrastructure/google"
	calendarPersistence "github.com/diaguru/diaguru/internal/calendar/infrastructure/persistence"
	"github.com/diaguru/diaguru/internal/scheduling/application"
	"github.com/diaguru/diaguru/internal/scheduling/engine"
	advisorInfra "github.com/diaguru/diaguru/internal/scheduling/infrastructure/advisor"
	"github.com/diaguru/diaguru/internal/scheduling/infrastructure/persistence"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/database"
	_ "github.com/diaguru/diaguru/internal/shared/infrastructure/database/postgres" // driver registration
	_ "github.com/diaguru/diaguru/internal/shared/infrastructure/database/sqlite"   // driver registration
	"github.com/diaguru/diaguru/internal/shared/infrastructure/eventbus"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/lock"
	"github.com/diaguru/diaguru/internal/shared/infrastructure/migrations"
	"github.com/diaguru/diaguru/pkg/config"
)

// Container holds the wired application services.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	DB        database.Connection
	Captures  *persistence.CaptureRepository
	Runs      *persistence.PlanRunRepository
	Accounts  *calendarPersistence.AccountStore
	Calendar  calendarApp.Gateway
	Scheduler *application.SchedulerService
	Locks     lock.RequestLock

	// UserID is the single-tenant owner of all captures.
	UserID uuid.UUID

	publisher eventbus.Publisher
	redis     *redis.Client
}

// NewContainer builds the dependency graph.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     database.Driver(cfg.DatabaseDriver),
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := migrations.Run(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		DB:       conn,
		Captures: persistence.NewCaptureRepository(conn),
		Runs:     persistence.NewPlanRunRepository(conn),
		Accounts: calendarPersistence.NewAccountStore(conn),
		UserID:   resolveUserID(cfg, logger),
	}

	if c.Calendar, err = buildCalendarGateway(cfg, logger); err != nil {
		conn.Close()
		return nil, err
	}

	var advisor application.ConflictAdvisor
	if cfg.AdvisorEndpoint != "" {
		advisor = advisorInfra.NewHTTPAdvisor(cfg.AdvisorEndpoint, cfg.AdvisorAPIKey, cfg.AdvisorTimeout, logger)
	}

	if cfg.RabbitMQURL != "" {
		publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("connect event bus: %w", err)
		}
		c.publisher = publisher
	} else {
		c.publisher = eventbus.NewNoopPublisher(logger)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		c.redis = redis.NewClient(opts)
		c.Locks = lock.NewRedisLock(c.redis, logger)
	} else {
		c.Locks = lock.NewLocalLock()
	}

	c.Scheduler = application.NewSchedulerService(
		c.Captures,
		c.Runs,
		c.Calendar,
		c.Accounts,
		advisor,
		eventbus.NewDomainPublisher(c.publisher),
		logger,
		buildEngineConfig(cfg),
	)
	return c, nil
}

// Close releases all held resources.
func (c *Container) Close() {
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.Logger.Warn("close event publisher failed", "error", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.Logger.Warn("close redis client failed", "error", err)
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Warn("close database failed", "error", err)
		}
	}
}

func buildCalendarGateway(cfg *config.Config, logger *slog.Logger) (calendarApp.Gateway, error) {
	switch strings.ToLower(cfg.CalendarProvider) {
	case "", "google":
		tokens := google.NewStaticTokenProvider(cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthRefreshToken)
		return google.NewGateway(tokens, logger).WithCalendarID(cfg.CalendarID), nil
	case "caldav", "apple", "fastmail":
		endpoint := cfg.CalDAVEndpoint
		switch strings.ToLower(cfg.CalendarProvider) {
		case "apple":
			endpoint = caldav.AppleCalDAVURL
		case "fastmail":
			endpoint = caldav.FastmailCalDAVURL
		}
		if endpoint == "" {
			return nil, fmt.Errorf("CALDAV_ENDPOINT is required for provider %q", cfg.CalendarProvider)
		}
		return caldav.NewGateway(endpoint, cfg.CalDAVUsername, cfg.CalDAVPassword, logger), nil
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", cfg.CalendarProvider)
	}
}

func buildEngineConfig(cfg *config.Config) engine.SchedulerConfig {
	ec := engine.DefaultSchedulerConfig()
	if cfg.TargetChunkMinutes > 0 {
		ec.TargetChunkMinutes = cfg.TargetChunkMinutes
	}
	if cfg.OverlapBudgetMin > 0 {
		ec.Overlap.DailyBudgetMinutes = cfg.OverlapBudgetMin
	}
	if cfg.OverlapConcurrency > 0 {
		ec.Overlap.MaxConcurrency = cfg.OverlapConcurrency
	}
	ec.Overlap.Enabled = cfg.OverlapEnabled
	if cfg.PreemptNetGainFloor > 0 {
		ec.Preemption.NetGainFloor = cfg.PreemptNetGainFloor
	}
	return ec
}

// resolveUserID parses the configured user id, deriving a stable local one
// when unset so zero-config single-user mode works.
func resolveUserID(cfg *config.Config, logger *slog.Logger) uuid.UUID {
	if cfg.UserID != "" {
		if id, err := uuid.Parse(cfg.UserID); err == nil {
			return id
		}
		logger.Warn("DIAGURU_USER_ID is not a valid UUID, deriving local user id")
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("diaguru:local-user"))
}
