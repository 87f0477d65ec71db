package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected logrus.Level
		wantErr  bool
	}{
		{name: "debug level", input: "DEBUG", expected: logrus.DebugLevel},
		{name: "info level", input: "INFO", expected: logrus.InfoLevel},
		{name: "warn level", input: "WARN", expected: logrus.WarnLevel},
		{name: "warning level", input: "WARNING", expected: logrus.WarnLevel},
		{name: "error level", input: "ERROR", expected: logrus.ErrorLevel},
		{name: "case insensitive", input: "debug", expected: logrus.DebugLevel},
		{name: "invalid level", input: "INVALID", expected: logrus.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestSetupLogging(t *testing.T) {
	t.Run("writes json to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manualbox.log")

		logger, err := SetupLogging("debug", path, "json")
		require.NoError(t, err)
		logger.WithField("component", "test").Debug("mounted")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"test"`)
		assert.Contains(t, string(data), `"msg":"mounted"`)
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := SetupLogging("info", "", "xml")
		assert.Error(t, err)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := SetupLogging("loud", "", "text")
		assert.Error(t, err)
	})

	t.Run("level filters output", func(t *testing.T) {
		logger, err := SetupLogging("warn", "", "text")
		require.NoError(t, err)

		var buf bytes.Buffer
		logger.SetOutput(&buf)
		logger.Info("hidden")
		logger.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.True(t, strings.Contains(buf.String(), "shown"))
	})
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatBytes(tt.input))
	}
}

func TestParseBytes(t *testing.T) {
	n, err := ParseBytes("1 KiB")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)

	n, err = ParseBytes("2MB")
	require.NoError(t, err)
	assert.Equal(t, int64(2000000), n)

	_, err = ParseBytes("")
	assert.Error(t, err)

	_, err = ParseBytes("lots")
	assert.Error(t, err)
}
