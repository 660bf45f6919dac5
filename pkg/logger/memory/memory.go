// Package memory provides a logging backend that keeps entries in memory.
// It is meant for tests that assert on emitted log lines.
package memory

import (
	"fmt"
	"sync"
)

// Entry is a single captured log line.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// MemoryLogger captures log entries. It is safe for concurrent use.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) add(level, message string, keyvals []any) {
	fields := make(map[string]any, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fields[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	m.mu.Lock()
	m.entries = append(m.entries, Entry{Level: level, Message: message, Fields: fields})
	m.mu.Unlock()
}

// Entries returns a copy of everything logged so far.
func (m *MemoryLogger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Find returns all entries with the given level and message.
func (m *MemoryLogger) Find(level, message string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Level == level && e.Message == message {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryLogger) Log(message string, keyvals ...any)   { m.add("log", message, keyvals) }
func (m *MemoryLogger) Debug(message string, keyvals ...any) { m.add("debug", message, keyvals) }
func (m *MemoryLogger) Info(message string, keyvals ...any)  { m.add("info", message, keyvals) }
func (m *MemoryLogger) Warn(message string, keyvals ...any)  { m.add("warn", message, keyvals) }
func (m *MemoryLogger) Error(message string, keyvals ...any) { m.add("error", message, keyvals) }
func (m *MemoryLogger) Fatal(message string, keyvals ...any) { m.add("fatal", message, keyvals) }
