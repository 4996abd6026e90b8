package logger

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followsync/pkg/config"
)

func newBufferLogger(buf *bytes.Buffer) *zerologLogger {
	zlog := zerolog.New(buf).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	return &zerologLogger{logger: &zlog, fields: make(map[string]interface{})}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"json output", &config.LoggingConfig{Level: "debug", JSON: true}, false},
		{"invalid level", &config.LoggingConfig{Level: "loud"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "sync.log")}, false},
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
		{"", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestFieldChaining(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.WithField("account_id", "42").
		WithFields(map[string]interface{}{"page": 3, "partial": true}).
		Info("harvest stopped")

	out := buf.String()
	assert.Contains(t, out, "harvest stopped")
	assert.Contains(t, out, `"account_id":"42"`)
	assert.Contains(t, out, `"page":3`)
	assert.Contains(t, out, `"partial":true`)
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	_ = l.WithField("child", "yes")
	l.Info("parent")

	assert.NotContains(t, buf.String(), "child")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	assert.Same(t, l, l.WithError(nil))

	l.WithError(errors.New("upstream returned status 502")).Error("sync failed")
	assert.Contains(t, buf.String(), "upstream returned status 502")
}

func TestWithContextRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	l.WithContext(ctx).Info("handled")

	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf)

	l.InfoWithFields("all types", map[string]interface{}{
		"when":     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"took":     2 * time.Second,
		"ids":      []string{"a", "b"},
		"cause":    errors.New("boom"),
		"snapshot": struct{ N int }{N: 1},
	})

	out := buf.String()
	assert.Contains(t, out, `"ids":["a","b"]`)
	assert.Contains(t, out, `"cause":"boom"`)
}

func TestHelpers(t *testing.T) {
	tl := NewTestLogger()

	LogPage(tl, "42", 1, 200, true)
	LogRateLimit(tl, "42", 2, 30*time.Second)
	LogSync(tl, "42", 400, 2, 5, false, time.Second)
	LogRequest(tl, "POST", "/api/v1/sync", 502, time.Millisecond)

	assert.True(t, tl.HasMessage("Fetched follower page"))
	assert.Len(t, tl.GetMessagesByLevel("WARN"), 1)
	assert.True(t, tl.HasError())

	syncMsgs := tl.GetMessagesByLevel("INFO")
	require.Len(t, syncMsgs, 1)
	assert.Equal(t, 2, syncMsgs[0].Fields["unfollowers"])
}

func TestTestLoggerSharesCapture(t *testing.T) {
	tl := NewTestLogger()

	tl.WithField("component", "harvester").
		WithError(errors.New("timeout")).
		Warn("page failed")

	msgs := tl.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "harvester", msgs[0].Fields["component"])
	assert.Equal(t, "timeout", msgs[0].Error)

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestGlobalLogger(t *testing.T) {
	require.NoError(t, Initialize(&config.LoggingConfig{Level: "debug"}))
	assert.NotNil(t, GetLogger())

	tl := NewTestLogger()
	SetLogger(tl)
	defer SetLogger(nil)

	WithField("k", "v").Info("global")
	Warn("global warn")
	assert.True(t, tl.HasMessage("global"))
	assert.True(t, strings.HasPrefix(tl.GetMessages()[1].Message, "global"))
}
