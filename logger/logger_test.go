package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected LogLevel
	}{
		{"trace", LevelTrace},
		{"DEBUG", LevelDebug},
		{" info ", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"off", LevelNone},
		{"bogus", LevelWarn},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseLevel(tt.in, LevelWarn), tt.in)
	}
}

func TestGetLevelFromEnv(t *testing.T) {
	t.Setenv(LevelEnv, "error")
	assert.Equal(t, LevelError, GetLevelFromEnv())
	t.Setenv(LevelEnv, "")
	assert.Equal(t, LevelInfo, GetLevelFromEnv())
}

func TestJSONLogEntryString(t *testing.T) {
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(JSONLogEntry{Message: "hello"}.String()), &parsed))
	assert.Equal(t, "hello", parsed["message"])
	assert.Equal(t, "INFO", parsed["severity"])
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSONLogger(&buf, LevelDebug)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log.(*jsonLogger).now = func() time.Time { return ts }

	log.Trace("dropped")
	log.WithPrefix("[cache]").With(map[string]interface{}{"session": "s1"}).Info("cached %d", 3)
	log.Warn("careful")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry JSONLogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry.Severity)
	assert.Equal(t, "cached 3", entry.Message)
	assert.Equal(t, "cache", entry.Component)
	assert.Equal(t, "s1", entry.Metadata["session"])
	assert.True(t, ts.Equal(entry.Timestamp))

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "WARNING", entry.Severity)
}

func TestConsoleLogger(t *testing.T) {
	var lines []string
	log := NewConsoleLogger(LevelInfo).(*consoleLogger)
	log.printf = func(format string, v ...any) { lines = append(lines, fmt.Sprintf(format, v...)) }

	log.Debug("dropped")
	log.WithPrefix("[server]").With(map[string]interface{}{"k": "v"}).Error("boom %s", "now")

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "ERROR")
	assert.Contains(t, lines[0], "[server]")
	assert.Contains(t, lines[0], "boom now")
	assert.Contains(t, lines[0], `{"k":"v"}`)
}

func TestTestLoggerSharedAndConcurrent(t *testing.T) {
	log := NewTestLogger()
	child := WithKV(log, "session", "abc")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			child.Info("entry %d", i)
		}(i)
	}
	wg.Wait()
	log.Warn("parent")

	entries := log.Entries()
	assert.Len(t, entries, 21)
	assert.True(t, log.Contains("INFO", "entry 7"))
	assert.True(t, log.Contains("WARNING", "parent"))
	assert.False(t, log.Contains("ERROR", "parent"))
	assert.Equal(t, "abc", entries[0].Metadata["session"])
}
