package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	mu      sync.Mutex
	level             = INFO
	out     io.Writer = os.Stderr
	logFile *os.File
)

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetLogFile mirrors all log lines to the given file in addition to stderr.
// The parent directory is created if missing.
func SetLogFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	out = io.MultiWriter(os.Stderr, f)
	return nil
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
		out = os.Stderr
	}
}

func logLine(l Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	line := fmt.Sprintf("%s [%s] %s: %s",
		time.Now().Format("2006-01-02 15:04:05"),
		levelNames[l],
		component,
		msg,
	)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
		}
		line += " | " + strings.Join(parts, " ")
	}
	fmt.Fprintln(out, line)
}

func DebugC(component, msg string) { logLine(DEBUG, component, msg, nil) }
func InfoC(component, msg string)  { logLine(INFO, component, msg, nil) }
func WarnC(component, msg string)  { logLine(WARN, component, msg, nil) }
func ErrorC(component, msg string) { logLine(ERROR, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logLine(DEBUG, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logLine(INFO, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logLine(WARN, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logLine(ERROR, component, msg, fields)
}
