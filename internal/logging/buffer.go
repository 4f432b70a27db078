package logging

import (
	"strings"
	"sync"
	"time"
)

// Line is one buffered log entry.
type Line struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Logger    string         `json:"logger,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Query filters buffered lines. Zero values match everything.
type Query struct {
	// Level matches exactly (case-insensitive), e.g. "warn".
	Level string
	// Contains matches a substring of the message.
	Contains string
	// Since drops lines older than this time.
	Since time.Time
	// Limit keeps the newest matches; 0 means DefaultQueryLimit.
	Limit int
}

const DefaultQueryLimit = 200

// Buffer is a fixed-size ring of the most recent log lines.
type Buffer struct {
	mu    sync.RWMutex
	lines []Line
	next  int
	full  bool
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{lines: make([]Line, size)}
}

// Append adds a line, evicting the oldest when the ring is full.
func (b *Buffer) Append(line Line) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

// Cap returns the ring size.
func (b *Buffer) Cap() int {
	return len(b.lines)
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// Query returns matching lines oldest first, keeping the newest q.Limit.
func (b *Buffer) Query(q Query) []Line {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	level := strings.ToLower(q.Level)

	b.mu.RLock()
	defer b.mu.RUnlock()

	matches := []Line{}
	for _, line := range b.ordered() {
		if level != "" && line.Level != level {
			continue
		}
		if q.Contains != "" && !strings.Contains(line.Message, q.Contains) {
			continue
		}
		if !q.Since.IsZero() && line.Timestamp.Before(q.Since) {
			continue
		}
		matches = append(matches, line)
	}

	if len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	return matches
}

// ordered returns the ring contents oldest first. Caller holds the lock.
func (b *Buffer) ordered() []Line {
	if !b.full {
		return b.lines[:b.next]
	}
	out := make([]Line, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}
