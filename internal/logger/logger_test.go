package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInit_DisabledDiscards tests that a disabled logger drops records.
func TestInit_DisabledDiscards(t *testing.T) {
	require.NoError(t, Init(Options{Enabled: false}))
	Info("dropped") // must not panic
}

// TestInit_WriterAndLevel tests level filtering on a caller writer.
func TestInit_WriterAndLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, Writer: &buf, Level: slog.LevelWarn}))
	t.Cleanup(func() { _ = Init(Options{}) })

	Info("hidden")
	Warn("shown", "key", 7)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "key=7")
}

// TestInit_JSONFile tests that File creates missing directories.
func TestInit_JSONFile(t *testing.T) {
	path := t.TempDir() + "/logs/pheap.log"
	require.NoError(t, Init(Options{Enabled: true, File: path, JSON: true}))
	t.Cleanup(func() { _ = Init(Options{}) })
	Info("to file", "n", 1)
	require.NoError(t, Init(Options{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}
