// Package botlog is the engine's operational log sink. Every entry goes
// three ways: to the console through logrus, to a per-day append-only
// file, and into a bounded in-memory ring the status endpoint reads.
package botlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const ringCapacity = 200

// Level mirrors the subset of logrus levels the engine emits.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes categorized entries to console, daily file, and ring.
// Safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	console  *logrus.Logger
	dir      string
	loc      *time.Location
	file     *os.File
	fileDate string

	ring  []string
	start int
	count int

	now func() time.Time
}

// New opens a Logger writing daily files under dir, stamping entries in
// loc. The directory is created if missing.
func New(dir string, loc *time.Location, level logrus.Level) (*Logger, error) {
	if loc == nil {
		loc = time.UTC
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	console := logrus.New()
	console.SetLevel(level)
	console.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &Logger{
		console: console,
		dir:     dir,
		loc:     loc,
		ring:    make([]string, ringCapacity),
		now:     time.Now,
	}, nil
}

// Debug logs at debug level.
func (l *Logger) Debug(category, msg string, fields map[string]any) {
	l.log(LevelDebug, category, msg, fields)
}

// Info logs at info level.
func (l *Logger) Info(category, msg string, fields map[string]any) {
	l.log(LevelInfo, category, msg, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(category, msg string, fields map[string]any) {
	l.log(LevelWarn, category, msg, fields)
}

// Error logs at error level.
func (l *Logger) Error(category, msg string, fields map[string]any) {
	l.log(LevelError, category, msg, fields)
}

func (l *Logger) log(level Level, category, msg string, fields map[string]any) {
	now := l.now().In(l.loc)

	line := fmt.Sprintf("[%s] [%s] [%s] %s", now.Format("15:04:05"), level, category, msg)
	if len(fields) > 0 {
		if b, err := json.Marshal(fields); err == nil {
			line += " | " + string(b)
		}
	}

	entry := l.console.WithField("category", category)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	switch level {
	case LevelDebug:
		entry.Debug(msg)
	case LevelWarn:
		entry.Warn(msg)
	case LevelError:
		entry.Error(msg)
	default:
		entry.Info(msg)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.push(line)
	l.writeFile(now, line)
}

// push appends to the ring, evicting the oldest entry when full.
func (l *Logger) push(line string) {
	if l.count < ringCapacity {
		l.ring[(l.start+l.count)%ringCapacity] = line
		l.count++
		return
	}
	l.ring[l.start] = line
	l.start = (l.start + 1) % ringCapacity
}

// Recent returns up to n entries, newest last.
func (l *Logger) Recent(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > l.count {
		n = l.count
	}
	if n <= 0 {
		return []string{}
	}
	out := make([]string, n)
	first := l.count - n
	for i := 0; i < n; i++ {
		out[i] = l.ring[(l.start+first+i)%ringCapacity]
	}
	return out
}

// writeFile appends to the current day's file, rotating on date change.
// A file error is reported to the console but never fails the caller.
func (l *Logger) writeFile(now time.Time, line string) {
	date := now.Format("2006-01-02")
	if l.file == nil || l.fileDate != date {
		if l.file != nil {
			l.file.Close()
		}
		path := filepath.Join(l.dir, "bot_"+date+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.console.WithError(err).Error("failed to open log file")
			l.file = nil
			return
		}
		l.file = f
		l.fileDate = date
	}
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		l.console.WithError(err).Error("failed to write log file")
	}
}

// Close releases the current log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
