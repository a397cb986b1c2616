package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestInitWritesToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv("LOG_LEVEL", "")

	file := filepath.Join(t.TempDir(), "greet.log")
	closer := Init("info", file)
	slog.Info("hello", "k", "v")
	slog.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestOpIDIsAttached(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithOp(context.Background())
	require.NotEmpty(t, OpID(ctx))
	assert.Equal(t, OpID(ctx), OpID(WithOp(ctx)), "existing id is kept")

	FromContext(ctx, base).Info("step")
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, OpID(ctx), line["op_id"])
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := CronLogger{Log: slog.New(slog.NewJSONHandler(&buf, nil))}
	l.Error(errors.New("boom"), "job failed", "entry", 1)
	assert.Contains(t, buf.String(), `"error":"boom"`)
	assert.Contains(t, buf.String(), `"entry":1`)
}
