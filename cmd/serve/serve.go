// Package serve implements the serve command, running the HTTP API and the
// diagnosis scheduler until interrupted.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leafscan/leafnet-go/internal/analytics"
	"github.com/leafscan/leafnet-go/internal/api"
	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/diagnosis"
	"github.com/leafscan/leafnet-go/internal/leafnet"
	"github.com/leafscan/leafnet-go/internal/logging"
	"github.com/leafscan/leafnet-go/internal/observability"
	"github.com/leafscan/leafnet-go/internal/scheduler"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the diagnosis scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
}

func run(settings *conf.Settings) error {
	logger := logging.ForService("serve")

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing datastore failed", "error", err)
		}
	}()

	engine, err := leafnet.New(settings)
	if err != nil {
		return fmt.Errorf("initializing model: %w", err)
	}
	defer engine.Delete()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	metrics.LeafNet.ModelLoadedGauge.Set(1)
	engine.SetMetrics(metrics.LeafNet)

	diagnosisService := diagnosis.NewService(settings, store, engine)
	analyticsService := analytics.New(settings, store)

	sched := scheduler.New(settings, store, engine, metrics.Scheduler)
	sched.Start(context.Background())
	defer sched.Stop()

	server := api.New(settings, diagnosisService, analyticsService, metrics)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
