package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("text"), WithWriter(&buf), WithQuiet())

	l.Info("hello", "key", "value")
	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key=value")
	assert.NotContains(t, out, "source=")
}

func TestLogger_DebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithDebug(), WithFormat("text"), WithWriter(&buf), WithQuiet())

	l.Debug("debug message")
	out := buf.String()
	assert.Contains(t, out, "logger_test.go:")
	assert.NotContains(t, out, "internal/logger/logger.go")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("json"), WithWriter(&buf), WithQuiet())

	l.With("job", "j1").Info("started")
	require.True(t, strings.Contains(buf.String(), `"job":"j1"`))
}

func TestLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("text"), WithWriter(&buf), WithQuiet())

	l.Errorf("boom: %d", 42)
	assert.Contains(t, buf.String(), "boom: 42")
}

func TestContext_FromContextDefaultsToNop(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info("discarded") // must not panic
}

func TestContext_WithLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormat("text"), WithWriter(&buf), WithQuiet())
	ctx := WithLogger(context.Background(), l)

	Info(ctx, "via context")
	assert.Contains(t, buf.String(), "via context")
}
