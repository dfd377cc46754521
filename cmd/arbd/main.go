// Command arbd is the arbitrage watcher daemon. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/app"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/config"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/crypto"
)

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override app.mode (monitor, trade, full)")
	sealPath := flag.String("encrypt-credentials", "", "seal API credentials from the environment into the given file and exit")
	printConfig := flag.Bool("print-config", false, "print the effective configuration with secrets masked and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("arbd " + version)
		return
	}

	if *sealPath != "" {
		if err := sealCredentialsFile(*sealPath); err != nil {
			fmt.Fprintf(os.Stderr, "arbd: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("credentials sealed to", *sealPath)
		return
	}

	// Bootstrap logger until the configured one takes over.
	logger := newLogger("info", "text")
	slog.SetDefault(logger)

	// An explicit -config must exist; the default path may be absent, in
	// which case the built-in defaults run the stock monitor setup.
	explicitConfig := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicitConfig = true
		}
	})
	load := config.LoadOrDefaults
	if explicitConfig {
		load = config.Load
	}

	cfg, err := load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.App.Mode = *mode
	}

	// Printed before validation so a rejected config can still be inspected.
	if *printConfig {
		if err := toml.NewEncoder(os.Stdout).Encode(cfg.Redacted()); err != nil {
			fmt.Fprintf(os.Stderr, "arbd: encode config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger = newLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("arbitrage watcher starting",
		slog.String("version", version),
		slog.String("mode", cfg.App.Mode),
		slog.String("symbol", cfg.App.Symbol),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("arbitrage watcher stopped")
}

// newLogger builds a slog logger for the given level and format ("text" or
// "json").
func newLogger(levelName, format string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// sealCredentialsFile encrypts the API key pair from the environment into a
// credentials file that sources.*.credentials_file can point at.
func sealCredentialsFile(path string) error {
	key := os.Getenv("ARB_CREDENTIALS_API_KEY")
	secret := os.Getenv("ARB_CREDENTIALS_API_SECRET")
	password := os.Getenv("ARB_CREDENTIALS_KEY_PASSWORD")
	if key == "" || secret == "" || password == "" {
		return errors.New("set ARB_CREDENTIALS_API_KEY, ARB_CREDENTIALS_API_SECRET, and ARB_CREDENTIALS_KEY_PASSWORD")
	}

	sealed, err := crypto.SealCredentials(crypto.Credentials{APIKey: key, APISecret: secret}, password)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
