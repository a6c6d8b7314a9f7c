// Package tlog is the project-wide structured logger, replacing the
// teacher's bare fmt.Printf + package-level DebugFlag (see
// greaseweazle/read.go's DebugFlag gate) with leveled, field-tagged
// logging via github.com/charmbracelet/log.
package tlog

import (
	"os"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: false,
	Level:           log.InfoLevel,
})

// SetLevel adjusts global verbosity to l.
func SetLevel(l log.Level) {
	logger.SetLevel(l)
}

// SetVerbose is a convenience wrapper matching cobra's -v count flag.
func SetVerbose(count int) {
	switch {
	case count <= 0:
		logger.SetLevel(log.InfoLevel)
	case count == 1:
		logger.SetLevel(log.DebugLevel)
	default:
		logger.SetLevel(log.DebugLevel)
	}
}

// With returns a child logger carrying the given key-value fields (track
// number, parmset name, block index, etc.), matching its design's
// convention of tagging diagnostics with the cylinder/head being worked on.
func With(keyvals ...any) *log.Logger {
	return logger.With(keyvals...)
}

func Debug(msg string, keyvals ...any) { logger.Debug(msg, keyvals...) }
func Info(msg string, keyvals ...any)  { logger.Info(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { logger.Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { logger.Error(msg, keyvals...) }

func Debugf(format string, args ...any) { logger.Debugf(format, args...) }
func Infof(format string, args ...any)  { logger.Infof(format, args...) }
func Warnf(format string, args ...any)  { logger.Warnf(format, args...) }
func Errorf(format string, args ...any) { logger.Errorf(format, args...) }
