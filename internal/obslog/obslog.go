// Package obslog configures the process-wide zerolog logger the way
// cmd/server/main.go configures it in the teacher repo: RFC3339Nano
// timestamps, a console writer in dev, and a "service" field stamped on
// every line.
package obslog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. level is parsed with
// zerolog.ParseLevel; an unparsable level falls back to info. dev enables a
// human-readable console writer instead of JSON.
func Init(service, level string, dev bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	logger := log.With().Str("service", service).Logger()
	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	log.Logger = logger
}

// Component returns a named sub-logger for a package to store on its
// constructor, mirroring the teacher's log.With().Str(...).Logger() idiom.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
