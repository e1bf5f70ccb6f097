// Package logging configures the process logger and hands out one entry
// per subsystem, each tagged with a prefix.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ardnew/softusb/pkg"
	log "github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Subsystem prefixes
const (
	Probe = "probe"
	USB   = "usb"
	UART  = "uart"
	LED   = "led"
	Loop  = "loop"
)

// Options selects level and format.
type Options struct {
	Verbose bool
	// Format is "text" or "json".
	Format string
	Output io.Writer
}

// Setup builds a logger from opts. It also aligns the USB stack's own
// slog output with the chosen level and format.
func Setup(opts Options) (*log.Logger, error) {
	logger := log.New()
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	}

	switch strings.ToLower(opts.Format) {
	case "", "text":
		logger.SetFormatter(&prefixed.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
			ForceFormatting: true,
		})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
		pkg.SetLogFormat(pkg.LogFormatJSON)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	logger.SetLevel(log.InfoLevel)
	pkg.SetLogLevel(slog.LevelWarn)
	if opts.Verbose {
		logger.SetLevel(log.DebugLevel)
		pkg.SetLogLevel(slog.LevelDebug)
	}
	return logger, nil
}

// For returns the entry for one subsystem.
func For(logger *log.Logger, subsystem string) *log.Entry {
	return logger.WithField("prefix", subsystem)
}

// Discard is a logger that drops everything, for tests and library callers.
func Discard() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}
