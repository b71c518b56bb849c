package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithValueCarriesAttrs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, Configure(Options{Level: "debug", Stdout: &stdout, Stderr: &stderr}))

	ctx := WithValue(context.Background(), "run", "abc")
	ctx = WithValue(ctx, "delay", 25*time.Millisecond)
	Infof(ctx, "pressed %s", "Return")

	var record map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &record))
	assert.Equal(t, "pressed Return", record["msg"])
	assert.Equal(t, "abc", record["run"])
	assert.Equal(t, float64(25*time.Millisecond), record["delay"])
	assert.Empty(t, stderr.String())
}

func TestWithValueDoesNotLeakBetweenBranches(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, Configure(Options{Stdout: &stdout}))

	base := WithValue(context.Background(), "scene", "intro")
	_ = WithValue(base, "step", 1)
	Infof(base, "start")

	var record map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &record))
	assert.NotContains(t, record, "step")
}

func TestLevelFiltering(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, Configure(Options{Level: "warn", Format: "text", Stdout: &stdout, Stderr: &stderr}))

	ctx := context.Background()
	Debugf(ctx, "hidden")
	Infof(ctx, "hidden")
	Warnf(ctx, "shown %d", 1)
	Errorf(ctx, "shown %d", 2)

	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "shown 1")
	assert.Contains(t, stderr.String(), "shown 2")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestConfigureRejectsUnknownFormat(t *testing.T) {
	assert.Error(t, Configure(Options{Format: "xml"}))
}
