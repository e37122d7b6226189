// Package monitoring holds the process-wide logger and Prometheus collectors
// shared by the clustering packages.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests mute it with SetLogger(nil).
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Recorder collects formatted log lines. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Capture redirects Logf into a Recorder until restore is called.
func Capture() (rec *Recorder, restore func()) {
	prev := Logf
	rec = &Recorder{}
	Logf = func(format string, v ...interface{}) {
		rec.mu.Lock()
		rec.lines = append(rec.lines, fmt.Sprintf(format, v...))
		rec.mu.Unlock()
	}
	return rec, func() { Logf = prev }
}
