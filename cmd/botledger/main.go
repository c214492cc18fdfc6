// Command botledger runs the delegated trading ledger: the HTTP API, the live
// event stream and the audit archiver, depending on the configured mode.
//
//	botledger -config botledger.toml
//	botledger -config botledger.toml -check
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/botledger/internal/app"
	"github.com/alanyoungcy/botledger/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("BOTLEDGER_CONFIG"), "path to a TOML config file; defaults and env only when empty")
	check := flag.Bool("check", false, "validate the configuration, print it redacted and exit")
	flag.Parse()

	if err := run(*configPath, *check); err != nil {
		fmt.Fprintf(os.Stderr, "botledger: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, check bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if check {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(config.RedactedConfig(cfg))
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("botledger: starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)
	logger.Debug("botledger: effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("botledger: exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("botledger: stopped")
	return nil
}

// newLogger builds the JSON logger. Unknown levels fall back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
