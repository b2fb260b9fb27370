// Package report implements the report command, printing the agreement
// report between reviewer and automated diagnoses.
package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leafscan/leafnet-go/internal/analytics"
	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
)

// Command creates the report command.
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the agreement report between manual and server diagnoses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the report as JSON")
	return cmd
}

func run(settings *conf.Settings, asJSON bool) error {
	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no database backend enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	report, err := analytics.New(settings, store).BuildReport(analytics.RoleSystemAdmin)
	if err != nil {
		return err
	}

	if asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Printf("reviewed records: %d\n", report.Total)
	fmt.Printf("agreement:        %d\n", report.Correct)
	fmt.Printf("disagreement:     %d\n", report.Incorrect)
	if report.Total > 0 {
		fmt.Printf("accuracy:         %.1f%%\n", 100*float64(report.Correct)/float64(report.Total))
	}

	fmt.Println("\nconfusion matrix (rows: manual, columns: server):")
	fmt.Printf("%-12s", "")
	for _, label := range report.Labels {
		fmt.Printf("%-12s", label)
	}
	fmt.Println()
	for i, label := range report.Labels {
		fmt.Printf("%-12s", label)
		for j := range report.Labels {
			fmt.Printf("%-12d", report.Matrix[i][j])
		}
		fmt.Println()
	}
	return nil
}
