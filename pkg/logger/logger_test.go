package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFunctions_NoNilPointers(t *testing.T) {
	mu.Lock()
	logger = nil
	mu.Unlock()

	assert.NotPanics(t, func() {
		Debug("test debug", "key", "value")
		Info("test info", "key", "value")
		Warn("test warn", "key", "value")
		Error("test error", "key", "value")
	})
}

func TestSetOutput_WritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Info("invalidation fired", "resource", "posts", "count", 3)

	out := buf.String()
	assert.Contains(t, out, "invalidation fired")
	assert.Contains(t, out, "resource=posts")
	assert.Contains(t, out, "count=3")
}

func TestInit_LevelParsing(t *testing.T) {
	tests := []struct {
		level    string
		expected log.Level
	}{
		{"debug", log.DebugLevel},
		{"WARN", log.WarnLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"info", log.InfoLevel},
		{"", log.InfoLevel},
		{"bogus", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestInit_VerboseForcesDebug(t *testing.T) {
	Init(Options{Level: "error", File: filepath.Join(t.TempDir(), "sync.log"), Verbose: true})

	l := GetLogger()
	require.NotNil(t, l)
	assert.Equal(t, log.DebugLevel, l.GetLevel())
}
