// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Configure sets the global logrus level and formatter. format is "text" or "json".
func Configure(level, format string) error {
	return configure(log.StandardLogger(), os.Stderr, level, format)
}

func configure(l *log.Logger, out io.Writer, level, format string) error {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var formatter log.Formatter
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		formatter = &log.TextFormatter{FullTimestamp: true}
	case "json":
		formatter = &log.JSONFormatter{}
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(formatter)
	return nil
}
