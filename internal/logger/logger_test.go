package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_FormatsServiceAndSortedFields(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "info")

	// Act
	log.WithService("api").Info("container started", F("replica", 1), F("id", "abc"))

	// Assert
	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "[api] container started")
	assert.Contains(t, out, "{id=abc, replica=1}")
	assert.NotContains(t, out, "service=")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "warn")

	log.Debug("hidden debug")
	log.Info("hidden info")
	log.Warn("visible warn")
	log.Error("visible error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN  visible warn")
	assert.Contains(t, out, "ERROR visible error")
}

func TestLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "chatty")

	log.Debug("hidden")
	log.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_WithKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "debug").With(F("run", "r1"))

	log.Debug("step", F("layer", 0))

	assert.Contains(t, buf.String(), "{layer=0, run=r1}")
}

func TestNew_TeesIntoFile(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "flotilla.log")
	var buf bytes.Buffer

	// Act
	log, closer, err := New(Options{Level: "info", File: path, Output: &buf, DisableColors: true})
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, closer.Close())

	// Assert
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestNew_BadFile(t *testing.T) {
	_, _, err := New(Options{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard().Error("nothing")
	})
}
