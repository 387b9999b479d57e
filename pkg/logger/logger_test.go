package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/config"
)

func bufferLogger(buf *bytes.Buffer) *zerologLogger {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	zlog := zerolog.New(buf).Level(zerolog.DebugLevel)
	return &zerologLogger{logger: &zlog, fields: map[string]interface{}{}}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "info level", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "debug level", cfg: &config.LoggingConfig{Level: "debug"}},
		{name: "invalid level", cfg: &config.LoggingConfig{Level: "chatty"}, wantErr: true},
		{name: "file output", cfg: &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "harvester.log")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"nonsense", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestFieldsReachOutput(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf)

	l.WithField("topic", "inflation").
		WithFields(map[string]interface{}{"page": 3, "fresh": true}).
		InfoWithFields("Page committed", map[string]interface{}{"stored": int64(12)})

	out := buf.String()
	assert.Contains(t, out, "Page committed")
	assert.Contains(t, out, `"topic":"inflation"`)
	assert.Contains(t, out, `"page":3`)
	assert.Contains(t, out, `"fresh":true`)
	assert.Contains(t, out, `"stored":12`)
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := bufferLogger(&buf)
	_ = parent.WithField("account", "a1")

	parent.Info("plain")
	assert.NotContains(t, buf.String(), "a1")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf)

	assert.Same(t, l, l.WithError(nil))

	l.WithError(errors.New("store unreachable")).Error("commit failed")
	assert.Contains(t, buf.String(), "store unreachable")
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l := bufferLogger(&buf)

	l.WithFields(map[string]interface{}{
		"time":     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"duration": 5 * time.Second,
		"strings":  []string{"a", "b"},
		"custom":   struct{ Name string }{Name: "x"},
	}).Info("types")

	assert.Contains(t, buf.String(), `"strings":["a","b"]`)
}

func TestHelpers(t *testing.T) {
	tl := NewTestLogger()

	LogPageCommit(tl, "inflation", "acct-1", 2, 20, 7, "c2")
	LogRateLimit(tl, "inflation", "acct-1", time.Minute)
	LogMetrics(tl, "run", map[string]interface{}{"posts_stored": 7})

	debug := tl.GetMessagesByLevel("DEBUG")
	require.Len(t, debug, 1)
	assert.Equal(t, 7, debug[0].Fields["stored"])

	warn := tl.GetMessagesByLevel("WARN")
	require.Len(t, warn, 1)
	assert.Equal(t, "rate_limited", warn[0].Fields["action"])

	assert.True(t, tl.HasMessage("Run metrics"))
	assert.False(t, tl.HasError())
}

func TestTestLoggerSharedSink(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("topic", "rent").WithError(errors.New("boom"))
	child.Warn("deferred")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "rent", msgs[0].Fields["topic"])
	assert.EqualError(t, msgs[0].Error, "boom")

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestGlobalLogger(t *testing.T) {
	require.NoError(t, Initialize(&config.LoggingConfig{Level: "debug"}))
	assert.NotNil(t, GetLogger())

	Info("info message")
	WithField("key", "value").Info("with field")
	ForComponent("pool").Info("component")
}
