package config

import "github.com/MrWong99/hushling/internal/engine"

// ConfigDiff describes what changed between two configs. Log level and
// automation changes apply live; everything listed in RestartRequired only
// takes effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AutomationChanged bool
	Automation        engine.Config

	// VolumeChanged is set when only the volume differs among automation
	// fields, so playback can be adjusted without touching anything else.
	VolumeChanged bool

	// RestartRequired names the top-level sections that changed but are not
	// hot-reloadable.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AutomationChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Automation != new.Automation {
		d.AutomationChanged = true
		d.Automation = new.Automation.Engine()
		onlyVolume := old.Automation
		onlyVolume.TargetVolume = new.Automation.TargetVolume
		d.VolumeChanged = onlyVolume == new.Automation
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !audioEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Classifier != new.Classifier {
		d.RestartRequired = append(d.RestartRequired, "classifier")
	}
	if old.Features != new.Features {
		d.RestartRequired = append(d.RestartRequired, "features")
	}
	if old.Supervisor != new.Supervisor {
		d.RestartRequired = append(d.RestartRequired, "supervisor")
	}
	return d
}

// audioEqual compares audio sections, ignoring backend options maps which
// are not comparable.
func audioEqual(a, b AudioConfig) bool {
	if a.SampleRate != b.SampleRate || a.AssetDir != b.AssetDir || a.DataDir != b.DataDir {
		return false
	}
	ca, cb := a.Capture, b.Capture
	if ca.Name != cb.Name || ca.Device != cb.Device || ca.Path != cb.Path || ca.Realtime != cb.Realtime {
		return false
	}
	return a.Output.Name == b.Output.Name && a.Output.Device == b.Output.Device
}
