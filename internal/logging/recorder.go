package logging

import (
	"context"
	"sync"
)

// Entry is a log line captured by a Recorder.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// Recorder is an in-memory Logger that keeps every entry; tests use it to
// assert on soft-failure warnings.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	base    []Field
}

// NewRecorder constructs an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) With(fields ...Field) Logger {
	base := append(append([]Field(nil), r.base...), fields...)
	return &Recorder{mu: r.mu, entries: r.entries, base: base}
}

func (r *Recorder) Debug(_ context.Context, msg string, fields ...Field) { r.add("debug", msg, fields) }
func (r *Recorder) Info(_ context.Context, msg string, fields ...Field)  { r.add("info", msg, fields) }
func (r *Recorder) Warn(_ context.Context, msg string, fields ...Field)  { r.add("warn", msg, fields) }
func (r *Recorder) Error(_ context.Context, msg string, fields ...Field) { r.add("error", msg, fields) }

func (r *Recorder) add(level, msg string, fields []Field) {
	all := make(map[string]any, len(r.base)+len(fields))
	for _, f := range r.base {
		all[f.Key] = f.Value
	}
	for _, f := range fields {
		all[f.Key] = f.Value
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, Entry{Level: level, Message: msg, Fields: all})
	r.mu.Unlock()
}

// Entries returns a copy of the captured entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), (*r.entries)...)
}

// Count returns how many entries were captured at the given level.
func (r *Recorder) Count(level string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}
