package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LoggerInterface is the subset of logging the packages depend on.
type LoggerInterface = logrus.FieldLogger

// Config selects where and how much to log.
type Config struct {
	Level   string
	File    string
	Verbose bool
}

// NewLogger creates a logrus logger. Verbose mode writes human-readable
// lines to stderr; otherwise JSON lines are appended to the log file.
func NewLogger(cfg Config) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Verbose || cfg.File == "" {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return log, io.NopCloser(nil), nil
	}

	logFile, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(logFile)
	log.SetFormatter(&logrus.JSONFormatter{})
	return log, logFile, nil
}

// Discard returns a logger that drops everything. Used by tests and
// library callers that do not care about logs.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// MaskCode hides all but the last four characters of a QR code.
func MaskCode(code string) string {
	r := []rune(code)
	if len(r) <= 4 {
		return "****"
	}
	return "****" + string(r[len(r)-4:])
}
