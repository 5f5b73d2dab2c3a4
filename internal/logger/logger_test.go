package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Options{Level: WARN, Terminal: &buf, NoColor: true})
	require.NoError(t, err)

	l.Info("ORDER", "hidden")
	l.Warn("ORDER", "shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "[ORDER")
}

func TestFileSinkWritesJSON(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l, err := NewLogger(Options{Dir: dir, Terminal: &buf, NoColor: true})
	require.NoError(t, err)

	l.LogOrder("CREATE", "order-1", "pending")
	l.Close()

	files, err := filepath.Glob(filepath.Join(dir, "boxoffice-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)

	var found *LogEntry
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var entry LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry.Category == "ORDER" {
			found = &entry
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "INFO", found.Level)
	assert.Contains(t, found.Message, "order-1")
}

func TestNopAndParseLevel(t *testing.T) {
	NewNop().Error("X", "nothing happens")
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
