// Package logger is the process-wide structured logger: a slog text
// handler with compact timestamps and level tags, a startup banner
// helper, and the gin access-log middleware that keeps polling noise out
// of the console.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	mu       sync.RWMutex
	instance *slog.Logger
	level    = slog.LevelInfo
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// compactAttrs shortens timestamps to wall-clock time and pads level
// tags so columns line up.
func compactAttrs(groups []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Value = slog.StringValue(a.Value.Time().Format("15:04:05"))
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			tag := lvl.String()
			if len(tag) < 5 {
				tag += strings.Repeat(" ", 5-len(tag))
			}
			a.Value = slog.StringValue(tag)
		}
	}
	return a
}

// Init installs the process logger at the given level. Safe to call
// again; the last call wins.
func Init(levelName string) {
	mu.Lock()
	defer mu.Unlock()
	level = parseLevel(levelName)
	instance = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: compactAttrs,
	}))
}

func get() *slog.Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l == nil {
		Init(os.Getenv("SCRIBEFLOW_LOG_LEVEL"))
		mu.RLock()
		l = instance
		mu.RUnlock()
	}
	return l
}

func currentLevel() slog.Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// Startup prints a boot banner line and records the step at debug level
// with its structured fields.
func Startup(step, message string, args ...any) {
	if currentLevel() <= slog.LevelInfo {
		// Cyan [+] prefix for boot lines.
		fmt.Printf("\033[36m[+]\033[0m %s\n", message)
	}
	Debug("Startup step", append([]any{"step", step, "message", message}, args...)...)
}

// noisyPath reports endpoints that poll or stream: the health check, job
// snapshot polling, the SSE stream, and the transcript list a UI
// refreshes. These only appear in access logs at debug level.
func noisyPath(path string) bool {
	if path == "/healthz" || path == "/transcripts" {
		return true
	}
	return strings.HasPrefix(path, "/jobs/") || strings.HasPrefix(path, "/transcribe/")
}

// GinLogger is the access-log middleware. One compact line per request
// at info level, full structured detail at debug level.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		elapsed := float64(time.Since(start).Nanoseconds()) / 1e6
		status := c.Writer.Status()

		if currentLevel() <= slog.LevelDebug {
			Debug("Request",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"duration_ms", fmt.Sprintf("%.2f", elapsed),
				"ip", c.ClientIP())
			return
		}
		if noisyPath(c.Request.URL.Path) {
			return
		}
		fmt.Printf("INFO  %s %s %s %s%d\033[0m %.2fms\n",
			time.Now().Format("15:04:05"),
			c.Request.Method,
			path,
			statusColor(status),
			status,
			elapsed)
	}
}

func statusColor(status int) string {
	switch {
	case status < 300:
		return "\033[32m" // green
	case status < 400:
		return "\033[33m" // yellow
	case status < 500:
		return "\033[31m" // red
	default:
		return "\033[35m" // magenta
	}
}

// SetGinOutput silences gin's own writer so GinLogger is the only access
// log.
func SetGinOutput() {
	gin.DefaultWriter = io.Discard
}
