package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "SCENECTL_LOG_LEVEL"
	EnvLogTimestamp = "SCENECTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "SCENECTL_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure sets the global zerolog level and console output once per
// process; later calls are no-ops.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		level := zerolog.InfoLevel
		timestamp := true
		noColor := false
		if profile == ProfileTest {
			level = zerolog.DebugLevel
			timestamp = false
		}
		if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
			level = lvl
		}
		if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
			timestamp = v
		}
		if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
			noColor = v
		}

		zerolog.SetGlobalLevel(level)
		writer := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor}
		ctx := zerolog.New(writer).With()
		if timestamp {
			ctx = ctx.Timestamp()
		}
		logger := ctx.Logger()
		zerolog.DefaultContextLogger = &logger
	})
}

// ApplyFileLevel sets the global level from the config file's logging
// section. The level environment variable keeps precedence, so a
// deployment can override a file without editing it.
func ApplyFileLevel(level string) {
	if _, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		return
	}
	if lvl, ok := parseLevel(level); ok {
		zerolog.SetGlobalLevel(lvl)
	}
}

// ResolveNoColor picks the console color setting, environment variable
// over config file value.
func ResolveNoColor(fileValue bool) bool {
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		return v
	}
	return fileValue
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
