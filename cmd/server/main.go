// Command server runs the chat API gate: challenge issuance, the gated chat
// placeholder and the admin control surface.
//
// Usage:
//
//	server --addr :8080 --settings-file settings.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"chatguard/internal/platform/config"
	"chatguard/internal/platform/httpserver"
	"chatguard/internal/platform/logger"
)

// allowlistCleanupInterval is how often expired allowlist rows are deleted.
const allowlistCleanupInterval = time.Minute

// CLI defines the command-line interface. Flags override the environment.
type CLI struct {
	Addr         string `help:"Listen address (overrides CHATGUARD_ADDR)."`
	SettingsFile string `name:"settings-file" help:"Static settings YAML (overrides SETTINGS_FILE)." type:"path"`
	EnvFile      string `name:"env-file" help:"Optional .env file loaded before the environment is read." default:".env"`
	LogLevel     string `name:"log-level" help:"Log level (debug, info, warn, error), overrides LOG_LEVEL."`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("chatguard"),
		kong.Description("Abuse prevention and cost control gate for the chat API."),
		kong.UsageOnError(),
	)
	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "chatguard: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the optional .env file, the environment and the flag overrides.
func loadConfig(cli CLI) (*config.Config, error) {
	if cli.EnvFile != "" {
		if err := godotenv.Load(cli.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", cli.EnvFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cli.Addr != "" {
		cfg.Server.Addr = cli.Addr
	}
	if cli.SettingsFile != "" {
		cfg.Guard.SettingsFile = cli.SettingsFile
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	return cfg, nil
}

// run wires high-level dependencies, exposes the HTTP router and keeps the
// server lifecycle small. Gate logic lives in internal/ratelimit.
func run(cli CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.Logging)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := httpserver.New(cfg.Server, app.Router(), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting chatguard", "addr", cfg.Server.Addr)
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return app.settings.Run(gctx)
	})
	if app.cleanup != nil {
		g.Go(func() error {
			return app.cleanup(gctx, allowlistCleanupInterval)
		})
	}
	return g.Wait()
}
