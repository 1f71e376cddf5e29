package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger provides leveled logging throughout the application. Each line is
// "YYYY-MM-DD HH:MM:SS - LEVEL - message".
type Logger struct {
	mu    sync.Mutex
	out   *log.Logger
	file  *os.File
	debug bool
}

// NewLogger creates a new Logger writing to stdout.
func NewLogger() *Logger {
	return NewWriterLogger(os.Stdout)
}

// NewWriterLogger creates a Logger writing to w.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{out: log.New(w, "", 0), debug: os.Getenv("DEBUG") != ""}
}

// NewFileLogger opens <dir>/<component>.log in append mode and tees every
// line to stdout as well.
func NewFileLogger(dir, component string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}
	path := filepath.Join(dir, component+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %q: %w", path, err)
	}
	l := NewWriterLogger(io.MultiWriter(os.Stdout, f))
	l.file = f
	return l, nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) write(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf("%s - %s - %s", time.Now().Format("2006-01-02 15:04:05"), level, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.write("INFO", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.write("WARNING", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.write("ERROR", format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	if !l.debug {
		return
	}
	l.write("DEBUG", format, args...)
}
