package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"eventletter/internal/config"
	"eventletter/internal/ics"
	appLog "eventletter/internal/log"
	"eventletter/internal/oracle"
	"eventletter/internal/pipeline"
	"eventletter/internal/scrape"
	"eventletter/internal/store"
)

const version = "0.1.0"

// Environment overrides for secrets kept out of the config file.
const redisPasswordEnv = "EVENTLETTER_REDIS_PASSWORD"

var (
	configPath string
	debug      bool
)

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCommand().ExecuteContext(ctx)
	appLog.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "eventletter",
		Short:         "Build the events newsletter from university calendars",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is normal; the real environment still applies.
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				appLog.Warn("could not read .env", "err", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./config.yaml", "path to config file (created with defaults if missing)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		scrapeCommand(),
		validateCommand(),
		categorizeCommand(),
		renderCommand(),
		runCommand(),
		serveCommand(),
	)
	return root
}

// loadConfig reads the config and applies logging settings and secret
// overrides from the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	appLog.SetJSON(cfg.LogFormat == "json")

	if pw := os.Getenv(redisPasswordEnv); pw != "" {
		cfg.Storage.Redis.Password = pw
	}

	appLog.Debug("effective config",
		"config_path", configPath,
		"data_dir", cfg.DataDir,
		"sources", len(cfg.Sources),
		"oracle_provider", cfg.Oracle.Provider,
		"oracle_model", cfg.Oracle.Model,
		"storage", cfg.Storage.Backend,
	)
	return cfg, nil
}

func documents(cfg *config.Config) *store.Documents {
	return store.NewDocuments(cfg.DataDir, cfg.BackupsKeep)
}

// app holds what the pipeline commands share. Close releases the browser
// and the storage backend.
type app struct {
	cfg      *config.Config
	backend  store.Backend
	browser  *scrape.Browser
	pipeline *pipeline.Pipeline
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	o, err := oracle.New(cfg.Oracle)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	browser := scrape.NewBrowser(ctx, scrape.BrowserOptions{
		Timeout:     cfg.Scrape.Timeout,
		SettleDelay: cfg.Scrape.SettleDelay,
	})
	feeds := ics.NewFetcher(filepath.Join(cfg.DataDir, "ics-cache"), cfg.Scrape.Timeout)
	scraper := scrape.New(browser, feeds, scrape.Options{
		DetailPages:  cfg.Scrape.DetailPages,
		WeeklyMarker: cfg.WeeklyMarker,
		Location:     time.Local,
	})

	return &app{
		cfg:      cfg,
		backend:  backend,
		browser:  browser,
		pipeline: pipeline.New(cfg, documents(cfg), backend, o, scraper),
	}, nil
}

func (a *app) Close() {
	a.browser.Close()
	if err := a.backend.Close(); err != nil {
		appLog.Error("close storage", err)
	}
}
