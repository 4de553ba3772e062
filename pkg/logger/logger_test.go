package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("bogus"))
}

func TestSimpleHandlerFormatting(t *testing.T) {
	var sb stringsBuilderWriter
	h := &simpleHandler{out: &sb, level: slog.LevelInfo}
	log := slog.New(h)

	log.Info("something happened", "key", "value")
	log.Debug("hidden")

	out := sb.String()
	assert.Contains(t, out, "INFO something happened key=value")
	assert.NotContains(t, out, "hidden")
}

type stringsBuilderWriter struct {
	data []byte
}

func (w *stringsBuilderWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *stringsBuilderWriter) String() string { return string(w.data) }
