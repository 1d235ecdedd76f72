package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json")

	log.Debug("hidden")
	log.Info("mfa session started", "session_id", "s-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mfa session started", entry["msg"])
	assert.Equal(t, "pushauth", entry["service"])
	assert.Equal(t, "s-1", entry["session_id"])
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "debug", "text").Debug("poll retry")
	assert.Contains(t, buf.String(), "msg=\"poll retry\"")
}

func TestOutput(t *testing.T) {
	t.Run("stdout only without a path", func(t *testing.T) {
		w, closeFn := Output(FileOptions{})
		assert.Equal(t, os.Stdout, w)
		assert.NoError(t, closeFn())
	})

	t.Run("tees into a rotated file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pushauth.log")
		w, closeFn := Output(FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1})
		NewWithWriter(w, "info", "json").Info("mfa session started", "session_id", "s-1")
		require.NoError(t, closeFn())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"session_id":"s-1"`)
	})
}
