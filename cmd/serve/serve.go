// Package serve implements the serve command, the long-running backend.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/httpserver"
	"github.com/theRAGEhero/world-cafe/internal/logging"
	"github.com/theRAGEhero/world-cafe/internal/observability"
	"github.com/theRAGEhero/world-cafe/internal/registry"
	"github.com/theRAGEhero/world-cafe/internal/telemetry"
	"github.com/theRAGEhero/world-cafe/internal/transcript"
)

// Command returns the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}
}

// runServer assembles the service and blocks until shutdown.
func runServer(settings *conf.Settings) error {
	logger := logging.ForService("serve")

	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	ds := datastore.New(settings)
	if ds == nil {
		return fmt.Errorf("no database output enabled in configuration")
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error("closing datastore", "error", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	hub := broadcast.NewHub(settings.Realtime.SubscriberBuffer, metrics)
	reg := registry.New(ds, hub, metrics)
	manager := transcript.NewManager(ds, hub, reg, settings, metrics)
	server := httpserver.New(settings, ds, reg, manager, hub, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	serverErr := server.Start()
	g.Go(func() error {
		select {
		case err, ok := <-serverErr:
			if ok && err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	})
	shutdownTimeout := time.Duration(settings.Realtime.ShutdownTimeoutMS) * time.Millisecond
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		manager.StopAll()
		if err := server.Shutdown(shutdownTimeout); err != nil {
			logger.Error("http server shutdown", "error", err)
		}
		hub.Shutdown()
		reg.Close()
		return nil
	})

	logger.Info("world-cafe backend started",
		"node", settings.Main.Name, "port", settings.WebServer.Port, "version", settings.Version)
	telemetry.CaptureMessage("backend started", "main")
	return g.Wait()
}
