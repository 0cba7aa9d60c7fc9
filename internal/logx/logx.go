// Package logx provides structured, per-component logging for the orchestrator.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Level is a logging severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger is a named, leveled logger backed by the standard library's log.Logger.
type Logger struct {
	component string
	out       *log.Logger
}

// debugConfig controls which components emit DEBUG-level output.
//
//nolint:gochecknoglobals // intentional singleton, mirrors the teacher's debug config
var (
	debugMu     sync.RWMutex
	debugAll    bool
	debugDomain map[string]bool
)

func init() { //nolint:gochecknoinits // reads env once at process start
	debugMu.Lock()
	defer debugMu.Unlock()

	if v := os.Getenv("CONDUCTOR_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugAll = true
	}
	if domains := os.Getenv("CONDUCTOR_DEBUG_DOMAINS"); domains != "" {
		debugDomain = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugDomain[strings.TrimSpace(d)] = true
		}
	}
}

// NewLogger creates a Logger for the named component.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		out:       log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) debugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	if debugAll {
		return true
	}
	return debugDomain != nil && debugDomain[l.component]
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("[%s] [%s] %s", level, l.component, msg)
}

// Debug logs at DEBUG level, gated by CONDUCTOR_DEBUG / CONDUCTOR_DEBUG_DOMAINS.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.debugEnabled() {
		l.log(LevelDebug, format, args...)
	}
}

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Errorf formats an error in the logger's idiom and returns it, for use as
// `return logx.Errorf("...: %w", err)`-style terminal error construction.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// Wrap wraps err with additional context, preserving it for errors.Is/As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
