package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/theRAGEhero/world-cafe/cmd"
	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/logging"
	"github.com/theRAGEhero/world-cafe/internal/telemetry"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		logging.Fatal("error loading configuration", "error", err)
	}
	settings.Version = version

	level := slog.LevelInfo
	if settings.Debug {
		level = logging.LevelTrace
	}
	if settings.Main.Log.Enabled {
		err := logging.InitWithFile(settings.Main.Log.Path, level, logging.FileConfig{
			MaxSizeMB:  settings.Main.Log.MaxSizeMB,
			MaxBackups: settings.Main.Log.MaxBackups,
			MaxAgeDays: settings.Main.Log.MaxAgeDays,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			logging.SetLevel(level)
		}
	} else {
		logging.SetLevel(level)
	}

	if err := telemetry.Init(&telemetry.Settings{
		Enabled:     settings.Sentry.Enabled,
		DSN:         settings.Sentry.DSN,
		Environment: settings.Sentry.Environment,
		Version:     version,
		Debug:       settings.Debug,
	}); err != nil {
		logging.Warn("telemetry initialization failed", "error", err)
	}
	defer telemetry.Shutdown(5 * time.Second)

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		logging.Error("command failed", "error", err)
		return 1
	}
	return 0
}
