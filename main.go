package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mhelin/burstline/cmd"
	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}

	if settings.Main.Log.Enabled {
		closeLog, err := logging.InitWithFile(settings.Main.Log.Path, level, logging.FileLoggerConfig{
			MaxSizeMB:  settings.Main.Log.MaxSizeMB,
			MaxBackups: settings.Main.Log.MaxBackups,
			MaxAgeDays: settings.Main.Log.MaxAgeDays,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error setting up file logging: %v\n", err)
			os.Exit(1)
		}
		defer closeLog()
	} else {
		logging.Init(level)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
