// Package logx provides structured JSON logging for the locationd daemon
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped structured logger
type Logger struct {
	base      *logrus.Logger
	entry     *logrus.Entry
	component string
}

// NewLogger creates a JSON logger writing to stdout at the given level
func NewLogger(level, component string) *Logger {
	return newLogger(os.Stdout, level, component)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, level, component string) *Logger {
	return newLogger(w, level, component)
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return newLogger(io.Discard, "error", "discard")
}

func newLogger(w io.Writer, level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
			logrus.FieldKeyMsg:  "msg",
		},
	})
	base.SetLevel(parseLevel(level))

	return &Logger{
		base:      base,
		entry:     base.WithField("component", component),
		component: component,
	}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// SetLevel changes the level for this logger and every logger derived from it
func (l *Logger) SetLevel(level string) {
	l.base.SetLevel(parseLevel(level))
}

// Level returns the current level name
func (l *Logger) Level() string {
	return l.base.GetLevel().String()
}

// Component returns the component name attached to every entry
func (l *Logger) Component() string {
	return l.component
}

// WithComponent derives a logger sharing output and level under a new component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		base:      l.base,
		entry:     l.entry.WithField("component", component),
		component: component,
	}
}

// With derives a logger with extra fields attached to every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		base:      l.base,
		entry:     l.entry.WithFields(toFields(keysAndValues)),
		component: l.component,
	}
}

// toFields accepts alternating key/value pairs, a single map, or both
func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(keysAndValues); i++ {
		if m, ok := keysAndValues[i].(map[string]interface{}); ok {
			for k, v := range m {
				fields[k] = v
			}
			continue
		}
		if i+1 >= len(keysAndValues) {
			fields["extra"] = keysAndValues[i]
			break
		}
		key := fmt.Sprintf("%v", keysAndValues[i])
		val := keysAndValues[i+1]
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		fields[key] = val
		i++
	}
	return fields
}

func (l *Logger) log(level logrus.Level, msg string, keysAndValues []interface{}) {
	if !l.base.IsLevelEnabled(level) {
		return
	}
	l.entry.WithFields(toFields(keysAndValues)).Log(level, msg)
}

// Trace logs a trace message
func (l *Logger) Trace(msg string, keysAndValues ...interface{}) {
	l.log(logrus.TraceLevel, msg, keysAndValues)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(logrus.DebugLevel, msg, keysAndValues)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(logrus.InfoLevel, msg, keysAndValues)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(logrus.WarnLevel, msg, keysAndValues)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(logrus.ErrorLevel, msg, keysAndValues)
}

// LogVerbose logs a named event with its details at trace level
func (l *Logger) LogVerbose(event string, details map[string]interface{}) {
	l.log(logrus.TraceLevel, event, []interface{}{details})
}

// LogDebugVerbose logs a named event with its details at debug level
func (l *Logger) LogDebugVerbose(event string, details map[string]interface{}) {
	l.log(logrus.DebugLevel, event, []interface{}{details})
}

// LogStateChange records a state transition of a component
func (l *Logger) LogStateChange(component, from, to, reason string, details map[string]interface{}) {
	fields := map[string]interface{}{
		"state_component": component,
		"from":            from,
		"to":              to,
		"reason":          reason,
	}
	for k, v := range details {
		fields[k] = v
	}
	l.log(logrus.InfoLevel, "state_change", []interface{}{fields})
}
