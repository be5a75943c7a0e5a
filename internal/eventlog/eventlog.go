// Package eventlog appends human-readable security events to a text file.
// Each line is "[YYYY-MM-DD HH:MM:SS] text". Write failures are returned to
// the caller; an event that could not be logged is not silently dropped.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const lineLayout = "2006-01-02 15:04:05"

// Config names the log file.
type Config struct {
	Path string `yaml:"path"`
}

func DefaultConfig() Config {
	return Config{Path: "security_log.txt"}
}

// Log is an append-only security event log.
type Log struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New returns a Log writing to path. The parent directory is created on
// first write.
func New(path string) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path cannot be empty")
	}
	return &Log{path: path, now: time.Now}, nil
}

func (l *Log) Path() string { return l.path }

// Event appends one timestamped line.
func (l *Log) Event(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] %s\n", l.now().Format(lineLayout), text)

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("event log: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("event log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	return nil
}

// VerifiedEvent appends text suffixed with the LED verification outcome.
func (l *Log) VerifiedEvent(text string, verified bool) error {
	if verified {
		return l.Event(text + " - VERIFIED")
	}
	return l.Event(text + " - TAMPER DETECTED")
}
