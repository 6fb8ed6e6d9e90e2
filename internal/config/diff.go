package config

import "maps"

// ConfigDiff describes what changed between two configs.
//
// Only the log level is applied live. Every other tracked change is listed
// in RestartRequired so the operator can be told the edit is not in effect
// yet.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the config sections that changed and only take
	// effect after a restart, e.g. "dispatch.voices".
	RestartRequired []string
}

// Changed reports whether anything tracked differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.ops_addr", old.Server.OpsAddr != new.Server.OpsAddr)
	restart("server.request_timeout", old.Server.RequestTimeout != new.Server.RequestTimeout)
	restart("dispatch.system_prompt", old.Dispatch.SystemPrompt != new.Dispatch.SystemPrompt)
	restart("dispatch.voices", old.Dispatch.Voices != new.Dispatch.Voices)
	restart("dispatch.sampling", old.Dispatch.MaxTokens != new.Dispatch.MaxTokens ||
		old.Dispatch.Temperature != new.Dispatch.Temperature)
	restart("backends.hosted", old.Backends.Hosted != new.Backends.Hosted)
	restart("backends.local", old.Backends.Local.Kind != new.Backends.Local.Kind ||
		old.Backends.Local.BaseURL != new.Backends.Local.BaseURL ||
		!maps.Equal(old.Backends.Local.Models, new.Backends.Local.Models))
	restart("backends.aggregator", old.Backends.Aggregator.URL != new.Backends.Aggregator.URL ||
		old.Backends.Aggregator.Token != new.Backends.Aggregator.Token ||
		old.Backends.Aggregator.Timeout != new.Backends.Aggregator.Timeout ||
		!maps.Equal(old.Backends.Aggregator.Models, new.Backends.Aggregator.Models))
	restart("tts", old.TTS.Name != new.TTS.Name || old.TTS.Model != new.TTS.Model ||
		old.TTS.APIKey != new.TTS.APIKey || old.TTS.BaseURL != new.TTS.BaseURL)
	restart("cache", old.Cache != new.Cache)

	return d
}
