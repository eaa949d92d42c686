package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"TRACE":   LogLevelDebug,
		"warn":    LogLevelWarn,
		"Warning": LogLevelWarn,
		"error":   LogLevelError,
		"info":    LogLevelInfo,
		"":        LogLevelInfo,
		"bogus":   LogLevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelWarn, nil)

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message", String("image", "hivemq/hivemq-ce"))
	log.Error("error message", Error(errors.New("boom")))

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "image=hivemq/hivemq-ce")
	assert.Contains(t, out, "error=boom")
}

func TestSlogLogger_With(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelDebug, nil).With(String("component", "container"))
	log.Info("started", Int("mqtt_port", 1883), Bool("silent", true), Duration("took", time.Second))

	out := buf.String()
	assert.Contains(t, out, "component=container")
	assert.Contains(t, out, "mqtt_port=1883")
	assert.Contains(t, out, "silent=true")
	assert.Contains(t, out, "took=1s")
}

func TestSlogLogger_TimeZone(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewSlogLogger(&buf, LogLevelInfo, time.UTC).Info("tz")
	assert.Contains(t, buf.String(), "Z ")
}

func TestFromSlog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := FromSlog(slog.New(slog.NewTextHandler(&buf, nil)))
	log.Info("adapted", Any("ports", []int{1883, 8080}))
	assert.Contains(t, buf.String(), "adapted")

	assert.NotNil(t, FromSlog(nil))
}

func TestError_Nil(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", Error(nil).Value.String())
}

func TestSlogLogger_Slog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewSlogLogger(&buf, LogLevelInfo, nil).
		With(String("component", "cli")).(*SlogLogger).
		Slog().Info("via slog", "mqtt_port", 1883)
	assert.Contains(t, buf.String(), "component=cli")
	assert.Contains(t, buf.String(), "mqtt_port=1883")
}
