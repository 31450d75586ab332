// Package logging configures the process-wide logrus logger and exposes
// a 0-3 verbosity gate (level 3 includes redacted request/response
// bodies). Extends CLIProxyAPI's single
// atomic-bool verbose gate (internal/logging/verbose.go) to a 0-3 level.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var level atomic.Int32

func init() {
	if env := strings.TrimSpace(os.Getenv("COPILOT_VERBOSE")); env != "" {
		if n, err := strconv.Atoi(env); err == nil {
			level.Store(int32(n))
			return
		}
	}
	if env := strings.ToLower(strings.TrimSpace(os.Getenv("COPILOT_DEBUG"))); env != "" {
		switch env {
		case "1", "true", "yes", "y", "on":
			level.Store(3)
		}
	}
}

// Level returns the current verbosity level (0-3).
func Level() int {
	return int(level.Load())
}

// SetLevel updates the verbosity level at runtime.
func SetLevel(n int) {
	level.Store(int32(n))
}

// Enabled reports whether logging at the given verbosity level should
// produce output (i.e. the configured level is at least n).
func Enabled(n int) bool {
	return Level() >= n
}

// Configure wires logrus's output to stderr and, when logFile is
// non-empty (the COPILOT_LOG_FILE environment variable), also to a
// rotating file sink via lumberjack.
func Configure(logFile string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var out io.Writer = os.Stderr
	if strings.TrimSpace(logFile) != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	log.SetOutput(out)
}
