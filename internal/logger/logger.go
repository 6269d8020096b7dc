// Package logger provides the leveled console logging used across docqa.
// Info, warning and error lines are always written; debug lines only when
// verbose mode is enabled.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr

	debugTag = color.New(color.FgHiBlack).SprintFunc()
	infoTag  = color.New(color.FgCyan).SprintFunc()
	warnTag  = color.New(color.FgYellow).SprintFunc()
	errorTag = color.New(color.FgRed, color.Bold).SprintFunc()
)

// SetVerbose enables or disables debug output.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the writer for log lines. Defaults to os.Stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	if !IsVerbose() {
		return
	}
	write(debugTag("[DEBUG]"), format, args...)
}

// Info prints an informational message.
func Info(format string, args ...any) {
	write(infoTag("[INFO]"), format, args...)
}

// Warn prints a warning.
func Warn(format string, args ...any) {
	write(warnTag("[WARN]"), format, args...)
}

// Error prints an error.
func Error(format string, args ...any) {
	write(errorTag("[ERROR]"), format, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	if !IsVerbose() {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	fmt.Fprintf(output, "\n=== %s ===\n", name)
}

func write(tag, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	fmt.Fprintf(output, "%s %s "+format+"\n",
		append([]any{time.Now().Format("15:04:05"), tag}, args...)...)
}
