package cmd

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/telemetry-pipeline/config"
	"go.uber.org/fx/fxtest"
)

func TestParseLevel(t *testing.T) {
	l, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	_, err = parseLevel("verbose")
	assert.Error(t, err)
}

func TestProvideLoggerFormats(t *testing.T) {
	for _, format := range []string{"", logFormatJSON, logFormatText, logFormatOTel} {
		cfg := &config.Config{Log: config.Log{Level: "info", Format: format}}
		logger, err := ProvideLogger(fxtest.NewLifecycle(t), cfg)
		require.NoError(t, err, format)
		assert.NotNil(t, logger)
	}

	_, err := ProvideLogger(fxtest.NewLifecycle(t), &config.Config{Log: config.Log{Level: "info", Format: "xml"}})
	assert.Error(t, err)
}

func TestProvideLoggerWritesRotatingFile(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	file := filepath.Join(t.TempDir(), "agent.log")

	logger, err := ProvideLogger(lc, &config.Config{Log: config.Log{Level: "info", Format: logFormatJSON, File: file}})
	require.NoError(t, err)
	logger.Info("HELLO")

	lc.RequireStart().RequireStop()
	assert.FileExists(t, file)
}
