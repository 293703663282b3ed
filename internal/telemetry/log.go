// Package telemetry wraps the process-wide structured logger and its
// runtime-adjustable trace level, the one piece of "structured logging
// calls" SPEC_FULL.md's scope keeps in (it excludes log *sink* wiring,
// not the calls themselves). Grounded on cuemby-warren's
// pkg/log/log.go global-logger-plus-component-child idiom.
package telemetry

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level names the admin-settable trace verbosity (spec.md §4.9 "set
// trace level", "user trace level").
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config configures the process logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

var (
	mu     sync.RWMutex
	logger zerolog.Logger
	// componentLevels holds per-component overrides set by the
	// "user trace level" admin operation, layered over the global level.
	componentLevels = make(map[string]Level)
)

func init() {
	Init(Config{Level: LevelInfo})
}

// Init (re)configures the process-wide logger.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.JSONOutput {
		logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

// SetLevel changes the global trace level (spec.md §4.9 "set trace
// level").
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	zerolog.SetGlobalLevel(l.zerolog())
}

// SetComponentLevel overrides the trace level for one named component
// (spec.md §4.9 "user trace level"). zerolog's global level still filters
// every event, so an override can make a component quieter than the
// global level but not more verbose.
func SetComponentLevel(component string, l Level) {
	mu.Lock()
	defer mu.Unlock()
	componentLevels[component] = l
}

// ComponentLevels returns a snapshot of every component-level override
// currently set, for admin "get node state" reporting.
func ComponentLevels() map[string]Level {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]Level, len(componentLevels))
	for k, v := range componentLevels {
		out[k] = v
	}
	return out
}

// For returns a child logger scoped to component, applying any override
// SetComponentLevel set for it.
func For(component string) zerolog.Logger {
	mu.RLock()
	override, hasOverride := componentLevels[component]
	base := logger
	mu.RUnlock()

	child := base.With().Str("component", component).Logger()
	if hasOverride {
		child = child.Level(override.zerolog())
	}
	return child
}
