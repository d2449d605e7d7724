// Package logging provides leveled, structured logging for Inquest.
//
// Components obtain a named logger via GetLogger and attach persistent
// fields with WithField/WithFields. Per-package level overrides (exact
// names or "prefix.*" patterns) allow targeted debugging without raising
// the global level:
//
//	logging.Initialize("info", map[string]string{"remote.*": "debug"})
//	logger := logging.GetLogger("toolset.registry")
//	logger.InfoWithFields("catalog loaded", logging.Field("toolsets", n))
//
// Logger instances are immutable; WithField and friends return copies,
// so loggers are safe to share across goroutines.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// LogField is a single structured logging field.
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a structured logging field.
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// Logger writes leveled log lines for one named component.
type Logger struct {
	level  LogLevel
	name   string
	fields map[string]interface{}
}

var (
	globalLevel LogLevel = INFO
	initOnce    sync.Once

	packageLevels = make(map[string]LogLevel)
	packageMu     sync.RWMutex

	// exitFunc is called by Fatal. Overridable for tests.
	exitFunc = os.Exit
)

// Initialize sets the default log level and optional per-package overrides.
// Level strings are case-insensitive: debug, info, warn, error, fatal.
func Initialize(levelStr string, overrides ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}
	globalLevel = level

	if len(overrides) > 0 && overrides[0] != nil {
		return SetPackageLogLevels(overrides[0])
	}
	return nil
}

// SetPackageLogLevels replaces the per-package level overrides.
// Patterns ending in ".*" match any package under that prefix.
func SetPackageLogLevels(levels map[string]string) error {
	parsed := make(map[string]LogLevel, len(levels))
	for pkg, levelStr := range levels {
		level, err := parseLevel(levelStr)
		if err != nil {
			return fmt.Errorf("invalid log level for package %q: %w", pkg, err)
		}
		parsed[pkg] = level
	}

	packageMu.Lock()
	packageLevels = parsed
	packageMu.Unlock()
	return nil
}

// GetLogger returns a logger for the named component.
func GetLogger(name string) *Logger {
	initOnce.Do(func() {})
	return &Logger{
		level:  globalLevel,
		name:   name,
		fields: make(map[string]interface{}),
	}
}

// WithField returns a copy of the logger with one additional persistent field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Field(key, value))
}

// WithFields returns a copy of the logger with additional persistent fields.
func (l *Logger) WithFields(fields ...LogField) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	return &Logger{level: l.level, name: l.name, fields: merged}
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }

// Fatal logs at FATAL level and terminates the process with exit code 1.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(FATAL, msg, args...)
	exitFunc(1)
}

// DebugWithFields logs a message with one-off structured fields.
func (l *Logger) DebugWithFields(msg string, fields ...LogField) {
	l.logFields(DEBUG, msg, fields)
}

func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	l.logFields(INFO, msg, fields)
}

func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	l.logFields(WARN, msg, fields)
}

func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	l.logFields(ERROR, msg, fields)
}

// ErrorWithErr logs an error message with the error as a structured field.
func (l *Logger) ErrorWithErr(msg string, err error) {
	l.logFields(ERROR, msg, []LogField{Field("error", err)})
}

func (l *Logger) shouldLog(level LogLevel) bool {
	if pkgLevel, ok := lookupPackageLevel(l.name); ok {
		return level >= pkgLevel
	}
	return level >= l.level
}

func (l *Logger) log(level LogLevel, msg string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.write(level, msg, l.fields)
}

func (l *Logger) logFields(level LogLevel, msg string, fields []LogField) {
	if !l.shouldLog(level) {
		return
	}
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	l.write(level, msg, merged)
}

// write formats and emits one log line. DEBUG/INFO/WARN go to stdout,
// ERROR/FATAL to stderr.
func (l *Logger) write(level LogLevel, msg string, fields map[string]interface{}) {
	line := fmt.Sprintf("[%s] [%s] %s: %s", timestamp(), level, l.name, msg)
	if len(fields) > 0 {
		line += " |"
		for k, v := range fields {
			line += fmt.Sprintf(" %s=%v", k, v)
		}
	}

	out := os.Stdout
	if level >= ERROR {
		out = os.Stderr
	}
	fmt.Fprintln(out, line)
}

// timestamp returns an RFC3339 timestamp. LOG_TIMESTAMP overrides it for
// deterministic test output.
func timestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}

func lookupPackageLevel(name string) (LogLevel, bool) {
	packageMu.RLock()
	defer packageMu.RUnlock()

	if level, ok := packageLevels[name]; ok {
		return level, true
	}

	// Longest matching wildcard pattern wins.
	bestLen := -1
	var bestLevel LogLevel
	for pattern, level := range packageLevels {
		if !strings.HasSuffix(pattern, ".*") {
			continue
		}
		prefix := strings.TrimSuffix(pattern, ".*")
		if strings.HasPrefix(name, prefix+".") && len(pattern) > bestLen {
			bestLen = len(pattern)
			bestLevel = level
		}
	}
	if bestLen >= 0 {
		return bestLevel, true
	}
	return 0, false
}

// String returns the canonical upper-case level name.
func (level LogLevel) String() string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func parseLevel(levelStr string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return -1, fmt.Errorf("invalid level: %s (must be DEBUG, INFO, WARN, ERROR, or FATAL)", levelStr)
	}
}
