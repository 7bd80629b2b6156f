package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/tnunamak/clawpulse/internal/activity"
	"github.com/tnunamak/clawpulse/internal/api"
	"github.com/tnunamak/clawpulse/internal/config"
	"github.com/tnunamak/clawpulse/internal/credentials"
	"github.com/tnunamak/clawpulse/internal/logger"
	"github.com/tnunamak/clawpulse/internal/oauth"
	"github.com/tnunamak/clawpulse/internal/service"
	"github.com/tnunamak/clawpulse/internal/surface"
	"github.com/tnunamak/clawpulse/internal/usage"
)

type appOptions struct {
	level     string
	mock      bool
	noBrowser bool
	observers []service.Observer
	// out receives login prompts.
	out io.Writer
}

// app is the object graph shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    *service.Service
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if opts.level == "debug" || level == "" {
		level = opts.level
	}
	log, err := logger.New(cfg.Env, level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	store := credentials.NewStore(cfg.CredentialsPath(), log.Named("credentials"))
	agg := activity.New(activity.Options{
		StatsCachePath: cfg.StatsCachePath(),
		ProjectsDir:    cfg.ProjectsDir(),
		TTL:            cfg.StatsTTL,
		Logger:         log.Named("activity"),
	})
	refresher := oauth.NewRefresher(oauth.RefresherOptions{
		ClientID:   cfg.ClientID,
		TokenURL:   cfg.RefreshURL,
		HTTPClient: hc,
		Store:      store,
		Logger:     log.Named("refresh"),
	})
	fetcher := usage.NewFetcher(usage.Options{
		Store:     store,
		Refresher: refresher,
		Client: api.New(api.Options{
			URL:        cfg.UsageURL,
			APIVersion: cfg.APIVersion,
			Beta:       cfg.BetaHeader,
			HTTPClient: hc,
		}),
		Stats:  agg,
		Logger: log.Named("usage"),
	})
	flow := oauth.NewFlow(oauth.FlowOptions{
		ClientID:     cfg.ClientID,
		AuthorizeURL: cfg.AuthorizeURL,
		TokenURL:     cfg.TokenURL,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Timeout:      cfg.LoginTimeout,
		HTTPClient:   hc,
		Store:        store,
		UserAgent:    "clawpulse/" + Version,
		Logger:       log.Named("login"),
	})

	out := opts.out
	if out == nil {
		out = os.Stdout
	}
	// One reader over stdin for the process so a retried login gets the
	// next pasted line.
	input := surface.NewLines(os.Stdin)
	svc := service.New(service.Options{
		Fetcher:  fetcher,
		Flow:     flow,
		Store:    store,
		Activity: agg,
		Surface: func() oauth.Surface {
			return surface.NewTerminal(surface.TerminalOptions{
				Lines:       input,
				Out:         out,
				RedirectURI: cfg.RedirectURI,
				NoBrowser:   opts.noBrowser,
				Logger:      log.Named("surface"),
			})
		},
		Observers: opts.observers,
		Mock:      opts.mock,
		Logger:    log.Named("service"),
	})

	return &app{cfg: cfg, logger: log, svc: svc}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}
