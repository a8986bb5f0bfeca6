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

	"github.com/m0nds/teamflow-pro/internal/server"
	"github.com/m0nds/teamflow-pro/internal/server/middleware"
	"github.com/m0nds/teamflow-pro/internal/store"
	"github.com/m0nds/teamflow-pro/pkg/config"
	"github.com/m0nds/teamflow-pro/pkg/logging"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "version":
		fmt.Printf("teamflowd %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: teamflowd <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the realtime server\n")
	fmt.Fprintf(os.Stderr, "  migrate   Apply database migrations\n")
	fmt.Fprintf(os.Stderr, "  token     Mint a session token for a user\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

// loadConfig uses a bootstrap logger until the configured one exists.
func loadConfig(path string) (*config.Config, *slog.Logger) {
	boot := logging.New(slog.LevelInfo)
	cfg, err := config.Load(boot, path)
	if err != nil {
		boot.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.NewWithFormat(os.Stdout, logging.ParseLevel(cfg.Server.LogLevel), cfg.Server.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	cfg, logger := loadConfig(*configPath)
	logger.Info("Starting teamflowd", slog.String("version", version), slog.String("driver", cfg.Database.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("Failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	app, err := server.NewApp(ctx, logger, cfg, st)
	if err != nil {
		logger.Error("Failed to build application", slog.Any("error", err))
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

// cmdMigrate opens the store, which applies pending migrations, and reports
// the resulting schema version.
func cmdMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	cfg, logger := loadConfig(*configPath)
	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("Migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	v, err := store.SchemaVersion(ctx, st)
	if err != nil {
		logger.Error("Failed to read schema version", slog.Any("error", err))
		os.Exit(1)
	}
	fmt.Printf("schema at version %d\n", v)
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	user := fs.String("user", "", "user id to embed as the subject")
	name := fs.String("name", "", "display name")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = fs.Parse(args)

	if *user == "" {
		fmt.Fprintln(os.Stderr, "token: -user is required")
		os.Exit(2)
	}
	cfg, _ := loadConfig(*configPath)
	tok, err := middleware.IssueToken(cfg.Server.Auth.JWTSecret, *user, *name, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
