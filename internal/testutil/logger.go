package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// RecordingLogger keeps every log line as "LEVEL msg k=v ...". Safe for concurrent use.
type RecordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *RecordingLogger) record(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString(level + " " + msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, b.String())
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args...) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args...) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args...) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args...) }

// Lines returns the lines logged at level ("" for all).
func (l *RecordingLogger) Lines(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, line := range l.lines {
		if level == "" || strings.HasPrefix(line, level+" ") {
			out = append(out, line)
		}
	}
	return out
}
