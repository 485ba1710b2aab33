package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry at Trace and above for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a logger backed by a zaptest observer.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message equals msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset drops recorded entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

func (t *TestLogger) find(level zapcore.Level, msgContains string) (observer.LoggedEntry, bool) {
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			return entry, true
		}
	}
	return observer.LoggedEntry{}, false
}

// AssertLogged fails tb unless an entry at level contains msgContains.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if _, ok := t.find(level, msgContains); !ok {
		tb.Errorf("expected %s log containing %q, got %d entries", LevelName(level), msgContains, t.observed.Len())
	}
}

// AssertNotLogged fails tb if an entry at level contains msgContains.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if _, ok := t.find(level, msgContains); ok {
		tb.Errorf("unexpected %s log containing %q", LevelName(level), msgContains)
	}
}

// AssertField fails tb unless some entry with message msg carries key with
// the expected value. Values are compared through the field's map encoding,
// so ints, floats, bools and strings compare by value.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected interface{}) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if got, ok := entry.ContextMap()[key]; ok && sameValue(got, expected) {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

// AssertNoSecrets fails tb if a string field with a sensitive-looking key
// was logged in clear text.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	keys := NewDefaultConfig().Redaction.Fields
	for _, entry := range t.observed.All() {
		for _, f := range entry.Context {
			if f.Type != zapcore.StringType || f.String == "" || strings.HasPrefix(f.String, "[REDACTED") {
				continue
			}
			lower := strings.ToLower(f.Key)
			for _, k := range keys {
				if strings.Contains(lower, k) {
					tb.Errorf("sensitive field %q not redacted in %q", f.Key, entry.Message)
				}
			}
		}
	}
}

// AssertTraceCorrelation fails tb unless an entry with message msg carries a
// trace_id.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if _, ok := entry.ContextMap()["trace_id"]; ok {
			return
		}
	}
	tb.Errorf("message %q missing trace_id", msg)
}

func sameValue(got, want interface{}) bool {
	switch w := want.(type) {
	case int:
		return toFloat(got) == float64(w)
	case int64:
		return toFloat(got) == float64(w)
	case float64:
		return toFloat(got) == w
	}
	return got == want
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	case uint64:
		return float64(n)
	}
	return -1
}
