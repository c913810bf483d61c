package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything that needs a
// restart is collapsed into RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SynthesisChanged and TranscriptionChanged report new panel defaults.
	// They apply to panels mounted after the reload.
	SynthesisChanged     bool
	TranscriptionChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart (e.g., "providers", "share").
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SynthesisChanged || d.TranscriptionChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Panel defaults
	d.SynthesisChanged = old.Synthesis != new.Synthesis
	d.TranscriptionChanged = !equalTranscription(old.Transcription, new.Transcription)

	// Everything else is wired once at startup.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Share != new.Share {
		d.RestartRequired = append(d.RestartRequired, "share")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func equalTranscription(a, b TranscriptionConfig) bool {
	return a.Language == b.Language &&
		a.MeterInterval == b.MeterInterval &&
		a.FFTSize == b.FFTSize &&
		a.Smoothing == b.Smoothing &&
		slices.Equal(a.Languages, b.Languages)
}
