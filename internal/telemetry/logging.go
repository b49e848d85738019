// Package telemetry wires structured logging, tracing, and metrics for
// the planner, grounded on the teacher's cmd/froyo/main.go logging setup
// and pkg/telemetry tracer, rewritten at a scope matching what a planning
// CLI (rather than a long-running orchestration engine) actually needs.
package telemetry

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogging sets up zerolog's global logger: a console writer to
// stderr, with level driven by RUSTLE_LOG_LEVEL (falling back to -v/-vv
// verbosity counts when the env var is unset).
func ConfigureLogging(envLevel string, verbosity int) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	level := zerolog.InfoLevel
	switch envLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "info":
		level = zerolog.InfoLevel
	default:
		switch {
		case verbosity >= 2:
			level = zerolog.TraceLevel
		case verbosity == 1:
			level = zerolog.DebugLevel
		}
	}
	zerolog.SetGlobalLevel(level)
}

// PhaseLogger returns a logger scoped to one planning phase, with the
// play and strategy fields every phase log line carries.
func PhaseLogger(phase, play, strategy string) zerolog.Logger {
	return log.With().
		Str("phase", phase).
		Str("play", play).
		Str("strategy", strategy).
		Logger()
}
