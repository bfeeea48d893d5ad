package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{ServiceName: "centi", Output: &buf})

	ctx := log.WithParticipant(context.Background(), "p-1")
	ctx = log.WithField(ctx, "loan_id", "l-9")
	log.Info(ctx, "loan approved")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "centi", lines[0]["service"])
	assert.Equal(t, "p-1", lines[0]["participant_id"])
	assert.Equal(t, "l-9", lines[0]["loan_id"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "loan approved", lines[0]["message"])
}

func TestLogger_ErrorCarriesErrAndStack(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf})

	log.Error(context.Background(), "tick failed", errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "boom", lines[0]["error"])
	assert.NotEmpty(t, lines[0]["stack"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: zerolog.WarnLevel})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestLogger_ParentContextUnchanged(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf})

	parent := context.Background()
	_ = log.WithField(parent, "k", "v")
	log.Info(parent, "plain")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	_, has := lines[0]["k"]
	assert.False(t, has)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Error(context.Background(), "discarded", errors.New("x"))
}
