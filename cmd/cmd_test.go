package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/logging"
)

func TestDebugFlagControlsLogLevel(t *testing.T) {
	settings := &conf.Settings{}
	root := RootCommand(settings)
	require.NotNil(t, root.PersistentPreRunE)

	// Logging initializes after flag parsing, so --debug takes effect.
	settings.Debug = true
	require.NoError(t, root.PersistentPreRunE(root, nil))
	assert.True(t, logging.Structured().Enabled(context.Background(), slog.LevelDebug))

	settings.Debug = false
	require.NoError(t, root.PersistentPreRunE(root, nil))
	assert.False(t, logging.Structured().Enabled(context.Background(), slog.LevelDebug))
}
