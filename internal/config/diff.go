package config

import "slices"

// ConfigDiff describes what changed between two configs. Dialog, turn, VAD,
// and timeout values are safe to hot-apply; everything else requires a
// restart and is only flagged so the reload can say so.
type ConfigDiff struct {
	DialogChanged   bool
	TurnChanged     bool
	VADChanged      bool
	TimeoutsChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is set when the adapter list, session store,
	// knowledge base, server address, or prompt file changed. Those are
	// wired at startup and keep their old values until the next restart.
	RestartRequired bool
}

// HotApplicable reports whether the diff contains any change the running
// server can absorb without a restart.
func (d ConfigDiff) HotApplicable() bool {
	return d.DialogChanged || d.TurnChanged || d.VADChanged || d.TimeoutsChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !dialogEqual(old.Dialog, new.Dialog) {
		d.DialogChanged = true
	}
	if old.Turn != new.Turn {
		d.TurnChanged = true
	}
	if old.VAD != new.VAD {
		d.VADChanged = true
	}
	if old.Timeouts != new.Timeouts {
		d.TimeoutsChanged = true
	}

	if !adaptersEqual(old.Adapters, new.Adapters) ||
		!storeEqual(old.SessionStore, new.SessionStore) ||
		!knowledgeEqual(old.Knowledge, new.Knowledge) ||
		old.Audit != new.Audit ||
		old.PromptsFile != new.PromptsFile ||
		old.Server.Host != new.Server.Host ||
		old.Server.Port != new.Server.Port ||
		old.Server.Metrics != new.Server.Metrics {
		d.RestartRequired = true
	}

	return d
}

func dialogEqual(a, b DialogConfig) bool {
	return a.ConfidenceThreshold == b.ConfidenceThreshold &&
		a.MaxRetry == b.MaxRetry &&
		a.MaxNoResponse == b.MaxNoResponse &&
		a.DefaultLanguage == b.DefaultLanguage &&
		slices.Equal(a.AgentTriggers, b.AgentTriggers)
}

func adaptersEqual(a, b []AdapterEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].Name != b[i].Name {
			return false
		}
		if !mapsEqual(a[i].Options, b[i].Options) {
			return false
		}
	}
	return true
}

func storeEqual(a, b SessionStoreConfig) bool {
	return a.Name == b.Name && a.Retention == b.Retention && mapsEqual(a.Options, b.Options)
}

func knowledgeEqual(a, b KnowledgeConfig) bool {
	return a.Enabled == b.Enabled && a.DSN == b.DSN && a.Embedder == b.Embedder &&
		a.TopK == b.TopK && mapsEqual(a.Options, b.Options)
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
