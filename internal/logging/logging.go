// Package logging provides clawdis's process-wide leveled logger. Use a
// dot import to call L_info, L_error, etc. directly, matching the
// teacher's convention.
package logging

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Log levels
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var (
	logger *log.Logger
	once   sync.Once

	// currentLevel is read by L_trace since charmbracelet has no trace level of its own.
	currentLevel int32 = LevelInfo
)

// Config holds logging configuration.
type Config struct {
	Level      int
	TimeFormat string
	ShowCaller bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		TimeFormat: "15:04:05",
		ShowCaller: true,
	}
}

// Init initializes the global logger. Safe to call multiple times; only
// the first call takes effect.
func Init(cfg *Config) {
	once.Do(func() {
		if cfg == nil {
			cfg = DefaultConfig()
		}

		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			TimeFormat:      cfg.TimeFormat,
			ReportCaller:    cfg.ShowCaller,
			CallerOffset:    2, // skip logMsg -> L_* -> caller
		})

		atomic.StoreInt32(&currentLevel, int32(cfg.Level))

		switch cfg.Level {
		case LevelTrace, LevelDebug:
			logger.SetLevel(log.DebugLevel)
		case LevelInfo:
			logger.SetLevel(log.InfoLevel)
		case LevelWarn:
			logger.SetLevel(log.WarnLevel)
		case LevelError, LevelFatal:
			logger.SetLevel(log.ErrorLevel)
		}
	})
}

func ensureInit() {
	if logger == nil {
		Init(nil)
	}
}

// hasFmtVerb reports whether s contains a printf-style format verb.
func hasFmtVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' {
			next := s[i+1]
			if next != '%' && strings.ContainsRune("vsdtfgeopqxXbcUT+#", rune(next)) {
				return true
			}
		}
	}
	return false
}

// logMsgWithPrefix logs with a custom level prefix, for trace which
// charmbracelet's logger doesn't support natively.
func logMsgWithPrefix(prefix string, msg string, args ...interface{}) {
	ensureInit()

	finalMsg, keyvals := splitArgs(msg, args)

	_, file, line, ok := runtime.Caller(2)
	caller := ""
	if ok {
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		caller = fmt.Sprintf("<%s:%d>", file, line)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s %s", time.Now().Format("2006/01/02 15:04:05"), prefix, caller, finalMsg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", keyvals[i], keyvals[i+1])
	}
	sb.WriteString("\n")
	fmt.Fprint(os.Stderr, sb.String())
}

// logMsg handles the flexible logging format:
//   - logMsg(level, "message") -> simple
//   - logMsg(level, "value is %d", 42) -> printf
//   - logMsg(level, "loaded", "key", val, ...) -> structured
func logMsg(level log.Level, msg string, args ...interface{}) {
	ensureInit()

	finalMsg, keyvals := splitArgs(msg, args)

	switch level {
	case log.DebugLevel:
		logger.Debug(finalMsg, keyvals...)
	case log.InfoLevel:
		logger.Info(finalMsg, keyvals...)
	case log.WarnLevel:
		logger.Warn(finalMsg, keyvals...)
	case log.ErrorLevel:
		logger.Error(finalMsg, keyvals...)
	case log.FatalLevel:
		logger.Fatal(finalMsg, keyvals...)
	}
}

// splitArgs decides whether args are printf substitutions or key-value
// pairs, shared by both log paths above.
func splitArgs(msg string, args []interface{}) (string, []interface{}) {
	if len(args) == 0 {
		return msg, nil
	}
	if hasFmtVerb(msg) {
		return fmt.Sprintf(msg, args...), nil
	}
	return msg, args
}

// L_trace logs at trace level; only emitted when the level is set to
// LevelTrace. More verbose than debug - use for high-frequency logs.
func L_trace(msg string, args ...interface{}) {
	if atomic.LoadInt32(&currentLevel) < int32(LevelTrace) {
		return
	}
	logMsgWithPrefix("TRAC", msg, args...)
}

// L_debug logs at debug level.
func L_debug(msg string, args ...interface{}) {
	logMsg(log.DebugLevel, msg, args...)
}

// L_info logs at info level.
func L_info(msg string, args ...interface{}) {
	logMsg(log.InfoLevel, msg, args...)
}

// L_warn logs at warn level.
func L_warn(msg string, args ...interface{}) {
	logMsg(log.WarnLevel, msg, args...)
}

// L_error logs at error level.
func L_error(msg string, args ...interface{}) {
	logMsg(log.ErrorLevel, msg, args...)
}

// L_fatal logs at fatal level and exits.
func L_fatal(msg string, args ...interface{}) {
	logMsg(log.FatalLevel, msg, args...)
}
