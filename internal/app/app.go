// Package app wires configuration into the harvest services.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/services/fetcher"
	"github.com/ternarybob/dracma/internal/services/login"
	"github.com/ternarybob/dracma/internal/services/otp"
	"github.com/ternarybob/dracma/internal/services/pipeline"
	"github.com/ternarybob/dracma/internal/services/portal"
	"github.com/ternarybob/dracma/internal/services/scheduler"
	"github.com/ternarybob/dracma/internal/services/tokens"
	"github.com/ternarybob/dracma/internal/storage"
)

// App holds every service of one process
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage   *storage.Manager
	Portal    *portal.Client
	OTP       *otp.Poller
	Login     *login.Driver
	Tokens    *tokens.Manager
	Fetcher   *fetcher.Fetcher
	Pipeline  *pipeline.Pipeline
	Scheduler *scheduler.Service
}

// New builds the full service graph. The configuration must already be valid.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := app.initServices(ctx); err != nil {
		app.Close()
		return nil, err
	}

	logger.Info().Msg("Application initialized")
	return app, nil
}

// OpenStorage opens only the storage layer, for commands that read history
func OpenStorage(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	if err := app.initStorage(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) initStorage(ctx context.Context) error {
	mgr, err := storage.NewManager(ctx, &a.Config.Storage, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = mgr
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	cfg := a.Config

	a.Portal = portal.NewClient(cfg.Portal.APIBaseURL,
		portal.WithTimeout(cfg.Fetch.RequestTimeout),
		portal.WithRateLimit(cfg.Fetch.RateLimit),
		portal.WithLogger(a.Logger),
	)

	source, err := otp.NewSource(ctx, cfg.OTP, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize otp source: %w", err)
	}
	a.OTP = source

	a.Login = login.NewDriver(
		login.NewChromeBrowser(cfg.Browser, a.Logger),
		a.OTP,
		cfg.Portal,
		cfg.Browser,
		cfg.OTP.Wait,
		a.Logger,
	)

	a.Tokens = tokens.NewManager(a.Portal, a.Logger)

	a.Fetcher = fetcher.NewFetcher(a.Portal, a.Storage.ArtifactStore(), cfg.Storage.Prefix, a.Logger,
		fetcher.WithRequestTimeout(cfg.Fetch.RequestTimeout),
	)

	endpoints, err := cfg.ResolveEndpoints()
	if err != nil {
		return err
	}

	a.Pipeline = pipeline.NewPipeline(
		a.Login,
		a.Tokens,
		a.Fetcher,
		a.Storage.RunStorage(),
		cfg.Credentials,
		endpoints,
		a.Logger,
	)

	a.Scheduler = scheduler.NewService(a.Pipeline, cfg.Scheduler, a.Logger)

	a.Logger.Debug().
		Int("endpoints", len(endpoints)).
		Str("otp_source", cfg.OTP.Source).
		Str("storage", cfg.Storage.Type).
		Msg("Services initialized")

	return nil
}

// Close stops the scheduler and releases storage
func (a *App) Close() error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			return err
		}
	}
	a.Logger.Info().Msg("Application closed")
	return nil
}
