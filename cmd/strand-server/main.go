// Package main provides the strand gateway server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/strand/internal/autoreply"
	"github.com/raphaelgruber/strand/internal/chat"
	"github.com/raphaelgruber/strand/internal/clock"
	"github.com/raphaelgruber/strand/internal/config"
	"github.com/raphaelgruber/strand/internal/db"
	"github.com/raphaelgruber/strand/internal/gateway"
	"github.com/raphaelgruber/strand/internal/llm"
	"github.com/raphaelgruber/strand/internal/metrics"
	"github.com/raphaelgruber/strand/internal/models"
)

const startupTimeout = 30 * time.Second

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize logging: text to stderr, JSON to the log file
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	slog.Info("starting strand-server", "port", cfg.ServerPort)

	collector := metrics.NewCollector()

	// Connect to SurrealDB and make sure the schema exists
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	store, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger, collector)
	if err != nil {
		cancel()
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := store.InitSchema(ctx); err != nil {
		cancel()
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}
	cancel()

	// Wipe database if requested (via flag or env var)
	if *wipeDB || os.Getenv("STRAND_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		if err := store.WipeData(ctx); err != nil {
			cancel()
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		cancel()
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			slog.Error("failed to close database client", "error", err)
		}
	}()

	svc := chat.NewService(store, store, clock.Real(), logger, collector)
	svc.WindowSize = cfg.WindowSize

	if cfg.AutoReplyEnabled {
		rules := autoreply.DefaultRules()
		if cfg.AutoReplyRules != "" {
			loaded, err := autoreply.LoadRules(cfg.AutoReplyRules)
			if err != nil {
				slog.Error("failed to load auto-reply rules", "path", cfg.AutoReplyRules, "error", err)
				os.Exit(1)
			}
			rules = loaded
		}
		matcher := autoreply.NewMatcher(rules)

		// A nil drafter answers from the rules; only a real provider
		// gets a model. Assigning a nil *llm.Model would not read as
		// nil through the interface.
		var drafter autoreply.Drafter
		if cfg.LLMProvider != config.ProviderStatic {
			model, err := llm.NewModel(cfg, collector)
			if err != nil {
				slog.Error("failed to create drafter model", "provider", cfg.LLMProvider, "error", err)
				os.Exit(1)
			}
			drafter = model
		}

		svc.ArbiterFor = func(conv models.Conversation, recentLocalSend func(since time.Time) bool) chat.Observer {
			arb := autoreply.NewArbiter(conv, store, matcher, drafter, clock.Real(), logger, collector)
			arb.LocalActivity = recentLocalSend
			return arb
		}
	}

	srv := gateway.New(cfg, svc, store, store, collector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
