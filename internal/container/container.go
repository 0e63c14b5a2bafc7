package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/saulo-duarte/cbt-engine/internal/audit"
	"github.com/saulo-duarte/cbt-engine/internal/auth"
	"github.com/saulo-duarte/cbt-engine/internal/config"
	"github.com/saulo-duarte/cbt-engine/internal/database"
	"github.com/saulo-duarte/cbt-engine/internal/queue"
	"github.com/saulo-duarte/cbt-engine/internal/recovery"
	"github.com/saulo-duarte/cbt-engine/internal/router"
	"github.com/saulo-duarte/cbt-engine/internal/schema"
	"github.com/saulo-duarte/cbt-engine/internal/session"
	"github.com/saulo-duarte/cbt-engine/internal/tenancy"
	"github.com/saulo-duarte/cbt-engine/internal/tenant"
	"github.com/saulo-duarte/cbt-engine/internal/worker"
	"gorm.io/gorm"
)

type Container struct {
	Config *config.Config

	Control     *gorm.DB
	Directory   tenant.Directory
	Connections *database.Registry
	Schemas     *schema.Registry
	Tenants     *tenancy.Resolver

	Audit *audit.AsyncRecorder
	Queue *queue.GormQueue

	SessionContainer *session.SessionContainer
	AuthHandler      *auth.Handler
	Worker           *worker.Worker
	Sweeper          *recovery.Sweeper
}

// New loads configuration and wires every component against the control database.
func New(ctx context.Context) (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	config.Init(cfg.LogLevel, cfg.LogFormat)
	auth.Init(cfg.JWTSecret)

	pool := database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
	control, err := database.Connect(ctx, cfg.DatabaseURL, pool)
	if err != nil {
		return nil, fmt.Errorf("connect control database: %w", err)
	}

	for name, migrate := range map[string]func(*gorm.DB) error{
		"tenants":    tenant.Migrate,
		"audit_logs": audit.Migrate,
		"jobs":       queue.Migrate,
	} {
		if err := migrate(control); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", name, err)
		}
	}

	directory := tenant.NewDirectory(control)
	connections := database.NewRegistry(database.SchemaOpener(control, cfg.DatabaseURL, pool))
	schemas := schema.NewRegistry(nil)
	tenants := tenancy.NewResolver(directory, connections, schemas)

	recorder := audit.NewAsyncRecorder(audit.NewGormSink(control), cfg.AuditBuffer)
	jobs := queue.NewGormQueue(control, cfg.WorkerMaxAttempts)

	sessionContainer := session.NewSessionContainer(tenants, recorder, jobs, session.Options{
		EnqueueOnSubmit: cfg.EnqueueOnSubmit,
	})

	return &Container{
		Config:           cfg,
		Control:          control,
		Directory:        directory,
		Connections:      connections,
		Schemas:          schemas,
		Tenants:          tenants,
		Audit:            recorder,
		Queue:            jobs,
		SessionContainer: sessionContainer,
		AuthHandler:      auth.NewHandler(auth.CookieConfig{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure}),
		Worker:           worker.New(tenants, recorder, nil),
		Sweeper:          recovery.NewSweeper(directory, tenants, jobs, nil),
	}, nil
}

func (c *Container) Router() http.Handler {
	return router.New(router.RouterConfig{
		SessionHandler: c.SessionContainer.Handler,
		AuthHandler:    c.AuthHandler,
		RequestTimeout: c.Config.RequestTimeout,
	})
}

func (c *Container) Pool() *worker.Pool {
	return worker.NewPool(c.Queue, c.Worker, c.Config.WorkerConcurrency, c.Config.WorkerPollInterval)
}

// Close flushes pending audit entries and releases every database handle.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if err := c.Audit.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush audit log: %w", err))
	}
	if err := c.Connections.Close(); err != nil {
		errs = append(errs, err)
	}
	if sqlDB, err := c.Control.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close control database: %w", err))
		}
	}
	return errors.Join(errs...)
}
