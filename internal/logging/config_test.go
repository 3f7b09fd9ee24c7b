package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestApplyFileLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	t.Setenv(EnvLogLevel, "")
	ApplyFileLevel("debug")
	if got := zerolog.GlobalLevel(); got != zerolog.DebugLevel {
		t.Fatalf("level = %v, want debug", got)
	}

	// The environment variable keeps precedence over the file value.
	t.Setenv(EnvLogLevel, "error")
	ApplyFileLevel("trace")
	if got := zerolog.GlobalLevel(); got != zerolog.DebugLevel {
		t.Fatalf("file value overrode the environment, level = %v", got)
	}

	// Garbage file values leave the level alone.
	t.Setenv(EnvLogLevel, "")
	ApplyFileLevel("loud")
	if got := zerolog.GlobalLevel(); got != zerolog.DebugLevel {
		t.Fatalf("invalid file value changed the level to %v", got)
	}
}

func TestResolveNoColor(t *testing.T) {
	t.Setenv(EnvLogNoColor, "")
	if !ResolveNoColor(true) {
		t.Fatal("file value ignored without an env override")
	}
	if ResolveNoColor(false) {
		t.Fatal("no_color invented from nowhere")
	}

	t.Setenv(EnvLogNoColor, "false")
	if ResolveNoColor(true) {
		t.Fatal("env override lost to the file value")
	}
	t.Setenv(EnvLogNoColor, "true")
	if !ResolveNoColor(false) {
		t.Fatal("env override lost to the file value")
	}
}
