// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberhost/ember/internal/logging"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestSetup_AddsServiceIdentity(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("ember", "1.2.3", "json", &buf)

	logger.Info("hello", "key", "value")

	m := logLine(t, &buf)
	assert.Equal(t, "hello", m["msg"])
	assert.Equal(t, "ember", m["service"])
	assert.Equal(t, "1.2.3", m["version"])
	assert.Equal(t, "value", m["key"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("ember", "1.2.3", "text", &buf)

	logger.Info("hello")

	out := buf.String()
	assert.Contains(t, out, "msg=hello")
	assert.Contains(t, out, "service=ember")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestSetup_DebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("ember", "dev", "json", &buf)

	logger.Debug("noisy detail")
	assert.NotEmpty(t, buf.Bytes(), "debug level must be enabled")
}

func TestHandle_AddsTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("ember", "dev", "json", &buf)

	traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	spanID := trace.SpanID{0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "traced")

	m := logLine(t, &buf)
	assert.Equal(t, traceID.String(), m["trace_id"])
	assert.Equal(t, spanID.String(), m["span_id"])
}

func TestHandle_NoTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("ember", "dev", "json", &buf)

	logger.Info("untraced")

	m := logLine(t, &buf)
	assert.NotContains(t, m, "trace_id")
	assert.NotContains(t, m, "span_id")
}

func TestWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("ember", "dev", "json", &buf)

	logger.With("plugin", "echo").WithGroup("hook").Info("ran", "name", "init")

	m := logLine(t, &buf)
	assert.Equal(t, "echo", m["plugin"])
	hook, ok := m["hook"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "init", hook["name"])
}
