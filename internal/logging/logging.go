package logging

import (
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"staffline/internal/config"
)

// Init configures the process-wide logrus logger from the log config section.
func Init(cfg config.LogConfig, out io.Writer) {
	if out != nil {
		log.SetOutput(out)
	}
	log.SetFormatter(Formatter(cfg.Format))
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// Formatter returns the formatter for a log format name.
func Formatter(format string) log.Formatter {
	if strings.EqualFold(format, "json") {
		return &log.JSONFormatter{
			FieldMap: log.FieldMap{
				log.FieldKeyTime: "@timestamp",
				log.FieldKeyMsg:  "message",
			},
		}
	}
	return &log.TextFormatter{FullTimestamp: true}
}

// Component returns a logger tagged with the component name.
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}
