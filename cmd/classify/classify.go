// Package classify implements the classify command, diagnosing a single
// image file from the command line.
package classify

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/leafnet"
)

// Command creates the classify command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [image file]",
		Short: "Classify a single leaf image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings, args[0])
		},
	}
}

func run(settings *conf.Settings, imagePath string) error {
	engine, err := leafnet.New(settings)
	if err != nil {
		return fmt.Errorf("initializing model: %w", err)
	}
	defer engine.Delete()

	img, err := leafnet.LoadImage(imagePath)
	if err != nil {
		return err
	}

	score, err := engine.Predict(img)
	if err != nil {
		return err
	}
	disease, err := leafnet.DecodeDiagnosis(score)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", imagePath, disease)
	for i, label := range datastore.AllDiseaseTypes()[:leafnet.ClassCount] {
		fmt.Printf("  %-12s %.4f\n", label, score[i])
	}
	return nil
}
