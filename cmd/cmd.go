// Package cmd assembles the root command and its subcommands.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leafscan/leafnet-go/cmd/classify"
	"github.com/leafscan/leafnet-go/cmd/report"
	"github.com/leafscan/leafnet-go/cmd/serve"
	"github.com/leafscan/leafnet-go/cmd/sweep"
	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/logging"
)

// RootCommand creates the root command for leafnet-go.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leafnet-go",
		Short: "Leaf disease diagnosis pipeline",
		Long:  "LeafNet classifies wheat leaf images into disease categories, reconciles server, mobile and reviewer diagnoses, and reports their agreement.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flags are parsed by now, so the log level reflects --debug.
			logging.Init(settings.Debug)
			return nil
		},
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		sweep.Command(settings),
		classify.Command(settings),
		report.Command(settings),
	)

	setupFlags(rootCmd, settings)
	return rootCmd
}

// setupFlags defines global flags and binds them to viper.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVarP(&settings.Model.Path, "model", "m", viper.GetString("model.path"), "Path to the TensorFlow Lite model file")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		cobra.CheckErr(err)
	}
	if err := viper.BindPFlag("model.path", rootCmd.PersistentFlags().Lookup("model")); err != nil {
		cobra.CheckErr(err)
	}
}
