// Package main provides the debate orchestration server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/policy-debate/internal/config"
	"github.com/raphaelgruber/policy-debate/internal/db"
	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/llm"
	"github.com/raphaelgruber/policy-debate/internal/metrics"
	"github.com/raphaelgruber/policy-debate/internal/policy"
	"github.com/raphaelgruber/policy-debate/internal/server"
	"github.com/raphaelgruber/policy-debate/internal/session"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	_ session.Store  = (*db.Client)(nil)
	_ policy.Writer  = (*db.Client)(nil)
	_ server.Archive = (*db.Client)(nil)
)

// generator is what the server needs from a language model backend.
type generator interface {
	debate.Generator
	debate.StakeholderIdentifier
	debate.TopicExtractor
}

func main() {
	configPath := flag.String("config", os.Getenv("DEBATE_CONFIG"), "path to a YAML config file")
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	slog.SetDefault(logger)
	defer closeLog()

	if err := run(cfg, logger, *wipeDB); err != nil {
		slog.Error("server failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, wipe bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting debate-server", "addr", cfg.Server.Addr, "provider", cfg.LLM.Provider, "version", Version)

	collector := metrics.NewCollector()

	var store *db.Client
	if cfg.Store.URL != "" {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		var err error
		store, err = db.NewClient(initCtx, db.Config{
			URL:       cfg.Store.URL,
			Namespace: cfg.Store.Namespace,
			Database:  cfg.Store.Database,
			Username:  cfg.Store.User,
			Password:  cfg.Store.Pass,
			AuthLevel: cfg.Store.AuthLevel,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer func() {
			if err := store.Close(context.Background()); err != nil {
				slog.Error("failed to close database", "error", err)
			}
		}()

		if err := store.InitSchema(initCtx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		if wipe || os.Getenv("DEBATE_WIPE_DB") == "true" {
			if err := store.WipeData(initCtx); err != nil {
				return fmt.Errorf("wipe database: %w", err)
			}
		}
	} else {
		slog.Warn("no store configured, sessions are kept in memory only")
	}

	// Imported policies go to the store when there is one.
	var writable policy.Writer = policy.NewMemory()
	if store != nil {
		writable = store
	}
	catalog := policy.NewCatalog(writable, policy.NewLibrary(cfg.Policies.Dir))

	gen, err := newGenerator(ctx, cfg.LLM, collector, logger)
	if err != nil {
		return err
	}

	deps := session.Dependencies{
		Policies:     catalog,
		Stakeholders: gen,
		Topics:       gen,
		Generator:    gen,
		Metrics:      collector,
		Logger:       logger,
		Config:       cfg.Debate,
		BufferSize:   cfg.Server.BufferSize,
	}
	if store != nil {
		deps.Store = store
	}
	manager, err := session.NewManager(deps)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}
	go manager.RunJanitor(ctx, cfg.Server.JanitorInterval)

	opts := server.Options{
		Version:  Version,
		Manager:  manager,
		Policies: catalog,
		Metrics:  collector,
		Logger:   logger,
	}
	if store != nil {
		opts.Archive = store
	}

	if err := server.New(opts).Run(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func newGenerator(ctx context.Context, cfg config.LLMConfig, collector *metrics.Collector, logger *slog.Logger) (generator, error) {
	if cfg.Provider == config.ProviderOffline {
		slog.Info("using offline generator")
		return llm.NewOffline(0), nil
	}

	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	slog.Info("using language model", "provider", cfg.Provider, "model", model.Model())
	return llm.NewService(model, collector, logger), nil
}
