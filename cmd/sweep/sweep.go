// Package sweep implements the sweep command, running one diagnosis sweep
// over all pending records and exiting.
package sweep

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/leafnet"
	"github.com/leafscan/leafnet-go/internal/scheduler"
)

// Command creates the sweep command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Diagnose all pending records once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, settings)
		},
	}
}

func run(cmd *cobra.Command, settings *conf.Settings) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	engine, err := leafnet.New(settings)
	if err != nil {
		return fmt.Errorf("initializing model: %w", err)
	}
	defer engine.Delete()

	stats, err := scheduler.New(settings, store, engine, nil).RunSweep(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("scanned %d pending records, diagnosed %d, failed %d\n",
		stats.Scanned, stats.Diagnosed, stats.Failed)
	return nil
}
