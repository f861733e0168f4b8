// Package app wires the engine's components from configuration. The server
// and worker binaries both start from Build.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/cache"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/gateway"
	"github.com/unclebandit/outreach-engine/internal/generator"
	"github.com/unclebandit/outreach-engine/internal/llm"
	"github.com/unclebandit/outreach-engine/internal/lock"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/repository/memstore"
	"github.com/unclebandit/outreach-engine/internal/scheduler"
	"github.com/unclebandit/outreach-engine/internal/sentiment"
	"github.com/unclebandit/outreach-engine/internal/service"
	"github.com/unclebandit/outreach-engine/internal/vault"
)

type App struct {
	Config config.Config
	Logger *zap.Logger

	DB    *sql.DB
	Store repository.Store
	Queue queue.Queue
	Locks lock.Locker

	Gateway    *gateway.Gateway
	Generator  *generator.Generator
	Classifier *sentiment.Classifier

	Campaigns *service.CampaignService
	Inbound   *service.InboundService
	Followups *service.FollowupService
	Analytics *service.AnalyticsService
	Accounts  *service.AccountService
	Worker    *service.Worker
	Scheduler *scheduler.Scheduler

	closers []func() error
}

// Build connects the configured backends. Without DATABASE_URL state lives in
// memory, without AMQP_URL jobs run in process, without REDIS_URL drafts are
// cached in memory and without GENAI_API_KEY every draft uses the fallback
// template.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		if err := db.EnsureSchema(ctx, conn); err != nil {
			return err
		}
		a.DB = conn
		a.Store = repository.NewPostgresStore(conn)
		a.Locks = &lock.PostgresLocker{DB: conn, Logger: logger}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		a.Store = memstore.New().Store()
		a.Locks = lock.NewKeyedMutex()
	}

	if cfg.AMQPURL != "" {
		q, err := queue.DialAMQP(cfg.AMQPURL, cfg.Policy.WorkerConcurrency, logger)
		if err != nil {
			return err
		}
		a.Queue = q
	} else {
		a.Queue = queue.NewInMemoryQueue(logger)
	}
	a.closers = append(a.closers, a.Queue.Close)

	var c cache.Cache = cache.NewMemory()
	if cfg.RedisURL != "" {
		r, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, r.Close)
		c = r
	}

	var client llm.Client
	if cfg.GenAIAPIKey != "" {
		g, err := llm.NewGenAIClient(ctx, cfg.GenAIAPIKey, cfg.Policy.CompletionModel)
		if err != nil {
			return err
		}
		client = g
	} else {
		logger.Warn("GENAI_API_KEY not set, drafts use the fallback template")
	}

	v, err := vault.New(cfg.VaultSecret)
	if err != nil {
		return err
	}

	oauth := provider.NewOAuth("google", cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthTokenURL, cfg.OAuthRevokeURL)
	registry := provider.Registry{
		model.ProviderGmail: provider.NewGmailTransport(oauth, cfg.GmailEndpoint),
		model.ProviderSMTP:  provider.NewSMTPTransport(oauth, cfg.SMTPAddr),
	}

	policy := cfg.Policy
	a.Gateway = gateway.New(a.Store, v, registry, a.Locks, logger)
	a.Generator = generator.New(client, c, policy, logger)
	a.Classifier = sentiment.New(client, c, policy, logger)

	a.Campaigns = service.NewCampaignService(a.Store, a.Gateway, a.Generator, a.Queue, a.Locks, policy, logger)
	a.Inbound = service.NewInboundService(a.Store, a.Gateway, a.Classifier, a.Generator, a.Locks, policy, logger)
	a.Followups = service.NewFollowupService(a.Store, a.Gateway, a.Generator, a.Locks, policy, logger)
	a.Analytics = service.NewAnalyticsService(a.Store)
	a.Accounts = service.NewAccountService(a.Store, v, a.Gateway, policy, logger)
	a.Worker = service.NewWorker(a.Campaigns, a.Inbound, a.Followups, logger)
	a.Scheduler = scheduler.New(a.Store, a.Queue, policy, logger)
	return nil
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}
