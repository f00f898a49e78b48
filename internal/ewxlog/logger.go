// SPDX-License-Identifier: MIT

// Package ewxlog implements the run log format mandated for the core:
// one line per event, `YYYY-MM-DD HH:MM:SS|LEVEL|[PID] loc|message`,
// written to a rotating file next to the job's output and mirrored to
// the console for INFO and above. DEBUG lines go to the file only.
package ewxlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level is a log severity, ordered DEBUG < INFO < STATUS < WARNING < ERROR.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelStatus
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelStatus:
		return "STATUS"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger writes leveled lines to a rotating file and, for INFO and
// above, mirrors them to the console.
type Logger struct {
	mu      sync.Mutex
	file    io.WriteCloser
	console io.Writer
	pid     int
	now     func() time.Time
}

// LogPathFor derives the "<output>.log" path from a job's output path,
// replacing its extension as spec §6 requires.
func LogPathFor(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + ".log"
}

// New creates a Logger writing to path (rotated) and to console.
func New(path string, console io.Writer) (*Logger, error) {
	rw, err := NewRotatingWriter(path)
	if err != nil {
		return nil, err
	}
	return &Logger{
		file:    rw,
		console: console,
		pid:     os.Getpid(),
		now:     time.Now,
	}, nil
}

// Close closes the underlying rotating file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *Logger) log(level Level, skip int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	loc := callerLoc(skip + 1)

	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s|%s|[%d] %s|%s\n",
		l.now().Format("2006-01-02 15:04:05"), level, l.pid, loc, msg)

	_, _ = l.file.Write([]byte(line))
	if level >= LevelInfo && l.console != nil {
		_, _ = io.WriteString(l.console, line)
	}
}

func callerLoc(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "?"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Debug logs at DEBUG (file only).
func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, 2, format, args...) }

// Info logs at INFO (file + console).
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, 2, format, args...) }

// Status logs at STATUS (file + console).
func (l *Logger) Status(format string, args ...any) { l.log(LevelStatus, 2, format, args...) }

// Warning logs at WARNING (file + console).
func (l *Logger) Warning(format string, args ...any) { l.log(LevelWarning, 2, format, args...) }

// Error logs at ERROR (file + console).
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, 2, format, args...) }

// Finish writes the mandated final line ("Program finished" on success,
// "Program FAILED!" otherwise) and, on failure, tells the console where
// to look for details.
func (l *Logger) Finish(success bool, logPath string) {
	if success {
		l.Info("Program finished")
		return
	}
	l.Error("Program FAILED!")
	if l.console != nil {
		fmt.Fprintf(l.console, "See %s for details\n", logPath)
	}
}
