package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableQuote: true})
	return l
}

type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup reconfigures the package logger. An empty File keeps stderr output.
func Setup(opts Options) error {
	level := logrus.WarnLevel
	if strings.TrimSpace(opts.Level) != "" {
		parsed, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
		if err != nil {
			return err
		}
		level = parsed
	}
	log.SetLevel(level)

	if strings.TrimSpace(opts.File) == "" {
		log.SetOutput(os.Stderr)
		return nil
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 20
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	})
	log.SetFormatter(&logrus.JSONFormatter{})
	return nil
}

// SetOutput redirects log output; tests use it to capture lines.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func SetLevel(level logrus.Level) {
	log.SetLevel(level)
}

func Debugf(format string, args ...any) {
	log.Debugf(format, args...)
}

func Infof(format string, args ...any) {
	log.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	log.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	log.Errorf(format, args...)
}

func WithField(key string, value any) *logrus.Entry {
	return log.WithField(key, value)
}
