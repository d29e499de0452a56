package logger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// String returns the formatted message.
func (e TestLogEntry) String() string {
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testRecorder struct {
	mu   sync.Mutex
	logs []TestLogEntry
}

// TestLogger records every entry in memory. Loggers derived from it with With
// or WithPrefix share the same recording, and it is safe for concurrent use.
type TestLogger struct {
	metadata map[string]interface{}
	rec      *testRecorder
}

var _ Logger = (*TestLogger)(nil)

func (c *TestLogger) WithContext(ctx context.Context) Logger {
	return c
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{metadata: kv, rec: c.rec}
}

func (c *TestLogger) Log(level string, msg string, args ...interface{}) {
	c.rec.mu.Lock()
	c.rec.logs = append(c.rec.logs, TestLogEntry{level, msg, args, c.metadata})
	c.rec.mu.Unlock()
}

func (c *TestLogger) Trace(msg string, args ...interface{}) { c.Log("TRACE", msg, args...) }
func (c *TestLogger) Debug(msg string, args ...interface{}) { c.Log("DEBUG", msg, args...) }
func (c *TestLogger) Info(msg string, args ...interface{})  { c.Log("INFO", msg, args...) }
func (c *TestLogger) Warn(msg string, args ...interface{})  { c.Log("WARNING", msg, args...) }
func (c *TestLogger) Error(msg string, args ...interface{}) { c.Log("ERROR", msg, args...) }

// Fatal records the entry but does not exit, so tests can assert on it.
func (c *TestLogger) Fatal(msg string, args ...interface{}) { c.Log("FATAL", msg, args...) }

// Entries returns a copy of everything logged so far.
func (c *TestLogger) Entries() []TestLogEntry {
	c.rec.mu.Lock()
	defer c.rec.mu.Unlock()
	out := make([]TestLogEntry, len(c.rec.logs))
	copy(out, c.rec.logs)
	return out
}

// Contains reports whether an entry with the given severity has a formatted
// message containing substr.
func (c *TestLogger) Contains(severity string, substr string) bool {
	for _, e := range c.Entries() {
		if e.Severity == severity && strings.Contains(e.String(), substr) {
			return true
		}
	}
	return false
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{rec: &testRecorder{}}
}
