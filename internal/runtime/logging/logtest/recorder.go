// Package logtest provides a recording ServiceLogger for tests.
package logtest

import (
	"maps"
	"sync"

	loggingpkg "github.com/drblury/eventport/internal/runtime/logging"
)

// Entry is one recorded log call.
type Entry struct {
	Level  string
	Msg    string
	Fields loggingpkg.LogFields
	Err    error
}

// Recorder records every call. Children created through With share the
// parent's sink and inherit its fields.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	base    loggingpkg.LogFields
}

func New() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := make(loggingpkg.LogFields, len(r.base)+len(fields))
	maps.Copy(merged, r.base)
	maps.Copy(merged, fields)
	return &Recorder{mu: r.mu, entries: r.entries, base: merged}
}

func (r *Recorder) Debug(msg string, fields loggingpkg.LogFields) { r.add("debug", msg, nil, fields) }
func (r *Recorder) Info(msg string, fields loggingpkg.LogFields)  { r.add("info", msg, nil, fields) }
func (r *Recorder) Warn(msg string, fields loggingpkg.LogFields)  { r.add("warn", msg, nil, fields) }
func (r *Recorder) Trace(msg string, fields loggingpkg.LogFields) { r.add("trace", msg, nil, fields) }

func (r *Recorder) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.add("error", msg, err, fields)
}

func (r *Recorder) add(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := make(loggingpkg.LogFields, len(r.base)+len(fields))
	maps.Copy(merged, r.base)
	maps.Copy(merged, fields)

	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Fields: merged, Err: err})
}

// Entries returns a snapshot of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), *r.entries...)
}

// Find returns the first entry with the given level and message.
func (r *Recorder) Find(level, msg string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Level == level && e.Msg == msg {
			return e, true
		}
	}
	return Entry{}, false
}

// Count returns how many entries have the given level.
func (r *Recorder) Count(level string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}
