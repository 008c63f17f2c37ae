package main

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	cli "github.com/urfave/cli/v3"

	"github.com/pesio-ai/be-oa-approvals/internal/auth"
	"github.com/pesio-ai/be-oa-approvals/internal/cache"
	"github.com/pesio-ai/be-oa-approvals/internal/client"
	"github.com/pesio-ai/be-oa-approvals/internal/config"
	"github.com/pesio-ai/be-oa-approvals/internal/database"
	"github.com/pesio-ai/be-oa-approvals/internal/handler"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/metrics"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
	"github.com/pesio-ai/be-oa-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-oa-approvals/internal/service"
)

// app holds the wired dependencies shared by the subcommands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB // nil for the memory store
	stores  service.Stores
	metrics *metrics.Metrics
	closers []func() error
}

// loadApp reads configuration and builds the logger.
func loadApp(cmd *cli.Command) (*app, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	return &app{cfg: cfg, log: log, metrics: metrics.New()}, nil
}

// openStore connects the configured store. Postgres is migrated on open.
func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case "memory":
		m := memory.New()
		a.stores = service.Stores{
			ProcessTypes:  m.ProcessTypes(),
			Positions:     m.Positions(),
			Departments:   m.Departments(),
			Users:         m.Users(),
			Workflows:     m.Workflows(),
			Requests:      m.Requests(),
			History:       m.History(),
			Announcements: m.Announcements(),
		}
		a.log.Warn().Msg("Using in-memory store; data is lost on exit")
		return nil

	case "postgres":
		c := a.cfg.Database
		db, err := database.New(ctx, database.Config{
			Host:        c.Host,
			Port:        c.Port,
			User:        c.User,
			Password:    c.Password,
			Database:    c.Database,
			SSLMode:     c.SSLMode,
			MaxConns:    c.MaxConns,
			MinConns:    c.MinConns,
			MaxConnTime: c.MaxConnTime,
			MaxIdleTime: c.MaxIdleTime,
			HealthCheck: c.HealthCheck,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		a.log.Info().Str("host", c.Host).Str("database", c.Database).Msg("Database connection established")

		if err := db.Migrate(ctx, a.log.Logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.stores = service.Stores{
			ProcessTypes:  repository.NewProcessTypeRepository(db),
			Positions:     repository.NewPositionRepository(db),
			Departments:   repository.NewDepartmentRepository(db),
			Users:         repository.NewUserRepository(db),
			Workflows:     repository.NewWorkflowRepository(db),
			Requests:      repository.NewRequestRepository(db),
			History:       repository.NewHistoryRepository(db),
			Announcements: repository.NewAnnouncementRepository(db),
		}
		return nil

	default:
		return fmt.Errorf("unknown store %q", a.cfg.Store)
	}
}

func (a *app) openCache(ctx context.Context) (cache.Cache, error) {
	c := a.cfg.Cache
	if c.Driver != "redis" {
		return cache.NewMemory(c.TTL), nil
	}
	r, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		Prefix:   a.cfg.Service.Name + ":",
		TTL:      c.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.closers = append(a.closers, r.Close)
	a.log.Info().Str("addr", c.RedisAddr).Msg("Redis cache connected")
	return r, nil
}

func (a *app) openNotifier() (service.Notifier, error) {
	e := a.cfg.Events
	var transport client.Transport
	switch e.Driver {
	case "nats":
		t, err := client.NewNATSTransport(e.NATSURL, a.cfg.Service.Name)
		if err != nil {
			return nil, err
		}
		transport = t
	case "gochannel":
		transport = client.NewWatermillTransport(gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}))
	default:
		return nil, nil
	}

	p := client.NewNotificationPublisher(transport, e.SubjectPrefix, a.log.WithComponent("notifications").Logger)
	a.closers = append(a.closers, p.Close)
	a.log.Info().Str("driver", e.Driver).Str("prefix", e.SubjectPrefix).Msg("Notification publisher ready")
	return p, nil
}

// services wires the engine over the opened store.
func (a *app) services(ctx context.Context) (handler.Services, error) {
	c, err := a.openCache(ctx)
	if err != nil {
		return handler.Services{}, err
	}
	notifier, err := a.openNotifier()
	if err != nil {
		return handler.Services{}, err
	}

	registry := service.NewProcessTypeRegistry(a.stores.ProcessTypes, c, a.log.WithComponent("registry"))
	history := service.NewHistoryLedger(a.stores.History)
	workflows := service.NewWorkflowService(a.stores.Workflows, a.stores.Positions, registry, a.metrics, a.log.WithComponent("workflows"))

	return handler.Services{
		Registry:      registry,
		Workflows:     workflows,
		Requests:      service.NewRequestService(a.stores, registry, history, notifier, a.metrics, a.log.WithComponent("requests")),
		Decisions:     service.NewDecisionProcessor(a.stores.Requests, a.stores.Users, notifier, a.metrics, a.log.WithComponent("decisions")),
		Directory:     service.NewDirectoryService(a.stores, auth.NewTokenManager(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL), a.log.WithComponent("directory")),
		Announcements: service.NewAnnouncementService(a.stores.Announcements, a.log.WithComponent("announcements")),
	}, nil
}

func (a *app) seed(ctx context.Context, svc handler.Services) error {
	return service.NewSeeder(a.stores, svc.Registry, svc.Workflows, a.log.WithComponent("seed")).Run(ctx)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("Failed to release resource")
		}
	}
}
