package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel accepts debug, info, warn or error; anything else falls back to info.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	std.SetLevel(parsed)
}

// AddHook registers a hook that receives every entry the logger emits.
func AddHook(hook logrus.Hook) {
	std.AddHook(hook)
}

func IsDebugEnabled() bool {
	return std.IsLevelEnabled(logrus.DebugLevel)
}

// WithField returns an entry carrying one structured field.
func WithField(key string, value any) *logrus.Entry {
	return std.WithField(key, value)
}

// WithFields returns an entry carrying several structured fields.
func WithFields(fields map[string]any) *logrus.Entry {
	return std.WithFields(logrus.Fields(fields))
}

func Debugf(format string, v ...any) {
	std.Debugf(format, v...)
}

func Infof(format string, v ...any) {
	std.Infof(format, v...)
}

func Warnf(format string, v ...any) {
	std.Warnf(format, v...)
}

func Errorf(format string, v ...any) {
	std.Errorf(format, v...)
}

func Fatalf(format string, v ...any) {
	std.Fatalf(format, v...)
}
