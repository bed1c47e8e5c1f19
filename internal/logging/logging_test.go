package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(Config{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Infow("hidden")
	logger.Warnw("shown", "frames", 30)
	require.NoError(t, closer())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "frames")
}

func TestNew_JSONAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "driveguard.log")

	logger, closer, err := newLogger(Config{Format: "json", File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)
	logger.Named("machine").Infow("state change", "presence", "absent")
	require.NoError(t, closer())

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "state change", line["msg"])
	assert.Equal(t, "machine", line["logger"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"presence":"absent"`)
}

func TestNew_Invalid(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	_, _, err = New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestStdLog(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(Config{}, &buf)
	require.NoError(t, err)

	StdLog(logger, "http").Printf("listening on %s", ":8080")
	require.NoError(t, closer())
	assert.Contains(t, buf.String(), "listening on :8080")
}
