package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/specsweep/internal/config"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/logger"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, logger.IsService())
	logger.Debug().Str("subcommand", cfg.Subcommand()).Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	err = dispatch(ctx, cfg)
	cancel()
	if err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("Exiting with error")
		} else {
			logger.Error().Err(err).Msg("Exiting with error")
		}
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func dispatch(ctx context.Context, cfg *config.Config) error {
	log := logger.Default()

	switch cfg.Subcommand() {
	case "run":
		return runSweeps(ctx, cfg, log)
	case "serve":
		return serve(ctx, cfg, log)
	case "history":
		return listHistory(ctx, cfg, log, os.Stdout)
	case "export":
		return exportArchived(ctx, cfg, log, os.Stdout)
	default:
		return errors.New().WithData(errors.ErrInvalidArgument, struct {
			Subcommand string
			Valid      []string
		}{cfg.Subcommand(), []string{"run", "serve", "history", "export"}})
	}
}

// handleSignals turns SIGINT/SIGTERM into a cooperative cancel: a running
// sweep stops at its next step and its partial data is still exported.
func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
