// Package logging is the process-wide structured logger shared by the
// netstat client and server, plus the event stream that carries
// operator-facing log lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the logging level
type Level logrus.Level

// Logging levels
const (
	DebugLevel Level = Level(logrus.DebugLevel)
	InfoLevel  Level = Level(logrus.InfoLevel)
	WarnLevel  Level = Level(logrus.WarnLevel)
	ErrorLevel Level = Level(logrus.ErrorLevel)
	FatalLevel Level = Level(logrus.FatalLevel)
	PanicLevel Level = Level(logrus.PanicLevel)
)

func (l Level) String() string { return logrus.Level(l).String() }

// ParseLevel converts a level name such as "debug" or "warn".
func ParseLevel(name string) (Level, error) {
	l, err := logrus.ParseLevel(strings.TrimSpace(name))
	if err != nil {
		return InfoLevel, fmt.Errorf("invalid log level %q", name)
	}
	return Level(l), nil
}

var logger = logrus.New()

// Diagnostics go to stderr so that stdout stays free for command output.
func init() {
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stderr)
}

// Logger returns the shared logrus logger.
func Logger() *logrus.Logger {
	return logger
}

// SetLevel sets the logging level
func SetLevel(level Level) {
	logger.SetLevel(logrus.Level(level))
}

// GetLevel returns the current logging level
func GetLevel() Level {
	return Level(logger.GetLevel())
}

// SetFormatter sets the log formatter
func SetFormatter(formatter logrus.Formatter) {
	logger.SetFormatter(formatter)
}

// SetFormat selects the "text" or "json" formatter.
func SetFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

// SetOutput sets the log output
func SetOutput(output io.Writer) {
	logger.SetOutput(output)
}

// EnableFileLogging mirrors log output into path, rotated by size
func EnableFileLogging(path string, maxSize, maxBackups, maxAge int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	rotateLogger := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,    // megabytes
		MaxBackups: maxBackups, // number of backups
		MaxAge:     maxAge,     // days
		Compress:   true,       // compress backups
	}

	logger.SetOutput(io.MultiWriter(os.Stderr, rotateLogger))
	return nil
}

// WithFields creates a new log entry with fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// Component returns an entry tagged with the component name
func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Debugf logs a debug message
func Debugf(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

// Infof logs an info message
func Infof(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

// Warnf logs a warning message
func Warnf(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

// Errorf logs an error message
func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

// Fatalf logs a fatal message and exits
func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}

// InfoWithFields logs an info message with fields
func InfoWithFields(fields logrus.Fields, format string, args ...interface{}) {
	logger.WithFields(fields).Infof(format, args...)
}

// WarnWithFields logs a warning message with fields
func WarnWithFields(fields logrus.Fields, format string, args ...interface{}) {
	logger.WithFields(fields).Warnf(format, args...)
}

// ErrorWithFields logs an error message with fields
func ErrorWithFields(fields logrus.Fields, format string, args ...interface{}) {
	logger.WithFields(fields).Errorf(format, args...)
}
