package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOutput_WritesJSONLines(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	SetOutput(&buf)

	Infof("staged %d rows", 3)
	Debugf("hidden %s", "detail")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "staged 3 rows", entry["message"])
}

func TestInit_RotatingFileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	Init(Options{Level: "warn", Format: "json", File: path})
	t.Cleanup(func() { Init(Options{}) })

	Infof("dropped")
	Warnf("kept")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dropped")
	assert.Contains(t, string(raw), "kept")
}
