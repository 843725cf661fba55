package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/trackline-io/trackline/internal/analysis"
	apiPkg "github.com/trackline-io/trackline/internal/api"
	"github.com/trackline-io/trackline/internal/attach"
	"github.com/trackline-io/trackline/internal/branch"
	"github.com/trackline-io/trackline/internal/calendar"
	"github.com/trackline-io/trackline/internal/config"
	"github.com/trackline-io/trackline/internal/hosting"
	"github.com/trackline-io/trackline/internal/logbuf"
	"github.com/trackline-io/trackline/internal/notify"
	"github.com/trackline-io/trackline/internal/provider"
	"github.com/trackline-io/trackline/internal/scheduler"
	"github.com/trackline-io/trackline/internal/store"
	"github.com/trackline-io/trackline/internal/ticket"
	"github.com/trackline-io/trackline/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("tracklined starting", "workspace", cfg.Bitbucket.Workspace, "repo", cfg.Bitbucket.RepoSlug)

	// 1. Open the shared database
	os.MkdirAll(cfg.DataDir, 0o755)
	dbPath := filepath.Join(cfg.DataDir, "trackline.db")
	db, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	tickets, err := ticket.NewSQLiteStore(db)
	if err != nil {
		logger.Error("failed to init ticket store", "error", err)
		os.Exit(1)
	}
	registry, err := branch.NewRegistry(db)
	if err != nil {
		logger.Error("failed to init branch registry", "error", err)
		os.Exit(1)
	}
	analysisStore, err := analysis.NewStore(db)
	if err != nil {
		logger.Error("failed to init analysis store", "error", err)
		os.Exit(1)
	}
	deliveries, err := webhook.NewDeliveryLog(db)
	if err != nil {
		logger.Error("failed to init delivery log", "error", err)
		os.Exit(1)
	}
	attachStore, err := attach.NewStore(cfg.DataDir)
	if err != nil {
		logger.Error("failed to init attachment store", "error", err)
		os.Exit(1)
	}

	// 2. External clients
	var prov provider.Provider
	switch cfg.Provider.Type {
	case "openai":
		var opts []provider.OpenAIOption
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, provider.WithBaseURL(cfg.Provider.BaseURL))
		}
		if cfg.Provider.Model != "" {
			opts = append(opts, provider.WithModel(cfg.Provider.Model))
		}
		prov = provider.NewOpenAI(cfg.Provider.APIKey, opts...)
	default: // "anthropic"
		var opts []provider.AnthropicOption
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, provider.WithAnthropicBaseURL(cfg.Provider.BaseURL))
		}
		if cfg.Provider.Model != "" {
			opts = append(opts, provider.WithAnthropicModel(cfg.Provider.Model))
		}
		prov = provider.NewAnthropic(cfg.Provider.APIKey, opts...)
	}
	logger.Info("provider initialized", "type", cfg.Provider.Type, "model", cfg.Provider.Model)

	var hostingOpts []hosting.Option
	if cfg.Bitbucket.BaseURL != "" {
		hostingOpts = append(hostingOpts, hosting.WithBaseURL(cfg.Bitbucket.BaseURL))
	}
	bitbucket := hosting.NewClient(cfg.Bitbucket.Token, hostingOpts...)

	notifier := notify.New(cfg.Slack.BotToken, cfg.Slack.Channel, logger.With("component", "notify"))
	if notifier != nil {
		logger.Info("slack notifications enabled", "channel", cfg.Slack.Channel)
	}

	// 3. Domain services
	analyzer := analysis.NewService(analysisStore, prov, bitbucket, logger.With("component", "analysis"))

	var calendarSvc *calendar.Service
	if cfg.Google.Enabled() {
		oauth := calendar.NewOAuth(calendar.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURI:  cfg.Google.RedirectURI,
			StateSecret:  cfg.Google.StateSecret,
		})
		tokenStore, err := calendar.NewTokenStore(db)
		if err != nil {
			logger.Error("failed to init calendar store", "error", err)
			os.Exit(1)
		}
		var calOpts []calendar.ServiceOption
		if cfg.Google.CalendarID != "" {
			calOpts = append(calOpts, calendar.WithCalendarID(cfg.Google.CalendarID))
		}
		calendarSvc = calendar.NewService(oauth, tokenStore, logger.With("component", "calendar"), calOpts...)
		logger.Info("google calendar integration enabled")
	}

	processor := webhook.NewProcessor(tickets, registry, deliveries, notifier, logger.With("component", "webhook"))
	webhookHandler := webhook.NewHandler(processor, cfg.Bitbucket.WebhookSecret, logger.With("component", "webhook"))

	reconciler := &branch.Reconciler{
		Registry: registry,
		Hosting:  bitbucket,
		Logger:   logger.With("component", "reconcile"),
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Scheduler jobs
	sched := scheduler.New(logger.With("component", "scheduler"))
	if err := sched.Add("reconcile-branches", "@every 10m", reconciler.Run); err != nil {
		logger.Error("failed to register job", "error", err)
		os.Exit(1)
	}
	if calendarSvc != nil {
		if err := sched.Add("refresh-calendar", "0 7 * * *", calendarSvc.RefreshUpcoming); err != nil {
			logger.Error("failed to register job", "error", err)
			os.Exit(1)
		}
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 5. API server
	deps := apiPkg.Deps{
		Tickets:  tickets,
		Branches: registry,
		Hosting:  bitbucket,
		Analyzer: analyzer,
		Attach:   attachStore,
		Notifier: notifier,
		Webhook:  webhookHandler,
		Logs:     logBuf,
	}
	if calendarSvc != nil {
		deps.Calendar = calendarSvc
	}
	apiSrv := apiPkg.NewServer(apiPkg.Config{
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		Key:       cfg.API.Key,
		Workspace: cfg.Bitbucket.Workspace,
		RepoSlug:  cfg.Bitbucket.RepoSlug,
	}, deps, logger.With("component", "api"))

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 6. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("tracklined stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
