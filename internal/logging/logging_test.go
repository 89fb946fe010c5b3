package logging

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
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewHandler_JSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(&buf, Options{})).Info("hello", "k", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.EqualValues(t, 1, rec["k"])
}

func TestNewHandler_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newHandler(&buf, Options{Format: "text", Level: "warn"}))
	l.Info("dropped")
	l.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
}

// captureStderr troca o stderr do pacote por um buffer até o fim do teste.
func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	prevLogger, prevStderr := slog.Default(), stderr
	var buf bytes.Buffer
	stderr = &buf
	t.Cleanup(func() {
		stderr = prevStderr
		slog.SetDefault(prevLogger)
	})
	return &buf
}

func TestNew_WritesFile(t *testing.T) {
	out := captureStderr(t)

	path := filepath.Join(t.TempDir(), "logs", "smart-mrag.log")
	logger, closer, err := New(Options{File: path})
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"to file"`)
	assert.Contains(t, out.String(), `"msg":"to file"`)
}

func TestNew_FileOnlyKeepsStderrClean(t *testing.T) {
	out := captureStderr(t)

	path := filepath.Join(t.TempDir(), "smart-mrag.log")
	logger, closer, err := New(Options{File: path, FileOnly: true, Format: "text"})
	require.NoError(t, err)

	logger.Warn("only in file")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `msg="only in file"`)
	assert.Empty(t, out.String())
}

func TestNew_FileOnlyWithoutFileUsesStderr(t *testing.T) {
	out := captureStderr(t)

	logger, closer, err := New(Options{FileOnly: true})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("still visible")
	assert.Contains(t, out.String(), `"msg":"still visible"`)
}
