package libpack_logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gookit/goutil/envutil"
	"github.com/rs/zerolog"
)

type LogConfig struct {
	baseLogger  zerolog.Logger
	errorLogger zerolog.Logger
	nopLogger   zerolog.Logger
	mu          sync.Mutex
	minLevel    zerolog.Level
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.MessageFieldName = "msg"
	zerolog.TimestampFieldName = "ts"
	zerolog.LevelFieldName = "level"
	zerolog.LevelFatalValue = "critical"
}

func getMinLogLevel() zerolog.Level {
	levelStr := strings.ToLower(envutil.Getenv("LOG_LEVEL", "info"))
	return matchLogLevel(levelStr)
}

// SetLogLevel overrides the minimum log level taken from the LOG_LEVEL
// environment variable.
func (lc *LogConfig) SetLogLevel(level string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.minLevel = matchLogLevel(level)
}

func matchLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "critical":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func NewLogger() *LogConfig {
	return newLogger(os.Stdout, os.Stderr)
}

// NewLoggerWithOutput allows redirecting log output, used by tests.
func NewLoggerWithOutput(out, errOut io.Writer) *LogConfig {
	return newLogger(out, errOut)
}

func newLogger(out, errOut io.Writer) *LogConfig {
	zl := zerolog.New(out).With().Timestamp().Logger()
	return &LogConfig{
		baseLogger:  zl,
		errorLogger: zl.Output(errOut),
		nopLogger:   zerolog.Nop(),
		minLevel:    getMinLogLevel(),
	}
}

func (lc *LogConfig) getLogger(level zerolog.Level) zerolog.Logger {
	if level >= zerolog.ErrorLevel {
		return lc.errorLogger
	}
	if level < lc.minLevel {
		return lc.nopLogger
	}
	return lc.baseLogger
}

func (lc *LogConfig) Log(level zerolog.Level, message string, fields []map[string]interface{}) {
	lc.mu.Lock()
	minLevel := lc.minLevel
	lc.mu.Unlock()
	if level < minLevel {
		return
	}
	logger := lc.getLogger(level)
	event := logger.WithLevel(level)
	if len(fields) == 0 {
		event.Msg(message)
		return
	}

	field := fields[0]
	for k, val := range field {
		switch v := val.(type) {
		case string:
			event.Str(k, v)
		case int:
			event.Int(k, v)
		case float64:
			event.Float64(k, v)
		case error:
			event.AnErr(k, v)
		default:
			event.Interface(k, v)
		}
	}
	event.Msg(message)
}

func (lc *LogConfig) Info(message string, fields ...map[string]interface{}) {
	lc.Log(zerolog.InfoLevel, message, fields)
}

func (lc *LogConfig) Debug(message string, fields ...map[string]interface{}) {
	lc.Log(zerolog.DebugLevel, message, fields)
}

func (lc *LogConfig) Warn(message string, fields ...map[string]interface{}) {
	lc.Log(zerolog.WarnLevel, message, fields)
}

// alias Warning to Warn
func (lc *LogConfig) Warning(message string, fields ...map[string]interface{}) {
	lc.Warn(message, fields...)
}

func (lc *LogConfig) Error(message string, fields ...map[string]interface{}) {
	lc.Log(zerolog.ErrorLevel, message, fields)
}

func (lc *LogConfig) Critical(message string, fields ...map[string]interface{}) {
	lc.Log(zerolog.FatalLevel, message, fields)
	os.Exit(1)
}
