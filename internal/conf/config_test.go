package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestSettings() *Settings {
	return &Settings{
		Model: ModelSettings{
			Path:      "model/leafnet_v1_fp32.tflite",
			InputSize: 224,
			Mean:      [3]float64{0.485, 0.456, 0.406},
			Std:       [3]float64{0.229, 0.224, 0.225},
		},
		Scheduler: SchedulerSettings{Interval: time.Hour, BatchSize: 12},
		Output:    OutputSettings{SQLite: SQLiteSettings{Enabled: true, Path: "leafnet.db"}},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Run("valid defaults pass", func(t *testing.T) {
		require.NoError(t, ValidateSettings(defaultTestSettings()))
	})

	t.Run("zero input size rejected", func(t *testing.T) {
		s := defaultTestSettings()
		s.Model.InputSize = 0
		assert.Error(t, ValidateSettings(s))
	})

	t.Run("non-positive std rejected", func(t *testing.T) {
		s := defaultTestSettings()
		s.Model.Std[1] = 0
		assert.Error(t, ValidateSettings(s))
	})

	t.Run("batch size below one rejected", func(t *testing.T) {
		s := defaultTestSettings()
		s.Scheduler.BatchSize = 0
		assert.Error(t, ValidateSettings(s))
	})

	t.Run("no backend rejected", func(t *testing.T) {
		s := defaultTestSettings()
		s.Output.SQLite.Enabled = false
		assert.Error(t, ValidateSettings(s))
	})
}

func TestSaveSettings(t *testing.T) {
	s := defaultTestSettings()
	path := t.TempDir() + "/leafnet.yaml"
	require.NoError(t, SaveSettings(s, path))
	assert.FileExists(t, path)
}
