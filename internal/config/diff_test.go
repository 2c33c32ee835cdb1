package config_test

import (
	"testing"

	"github.com/HeckSmart/multilingual-voiceagent/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()

	d := config.Diff(old, new)
	if d.HotApplicable() {
		t.Errorf("identical configs should produce no hot-applicable diff: %+v", d)
	}
	if d.RestartRequired {
		t.Error("identical configs should not require restart")
	}
}

func TestDiff_LogLevelChange(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want debug", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change should not require restart")
	}
}

func TestDiff_DialogChange(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Dialog.ConfidenceThreshold = 0.8

	d := config.Diff(old, new)
	if !d.DialogChanged {
		t.Error("DialogChanged should be true")
	}
	if !d.HotApplicable() {
		t.Error("dialog change should be hot-applicable")
	}
	if d.RestartRequired {
		t.Error("dialog change should not require restart")
	}
}

func TestDiff_AgentTriggersChange(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Dialog.AgentTriggers = []string{"supervisor"}

	d := config.Diff(old, new)
	if !d.DialogChanged {
		t.Error("agent trigger change should set DialogChanged")
	}
}

func TestDiff_TurnAndVADAndTimeouts(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Turn.SilenceWindowMS = 2500
	new.VAD.MinSpeechSeconds = 0.5
	new.Timeouts.DataMS = 1000

	d := config.Diff(old, new)
	if !d.TurnChanged || !d.VADChanged || !d.TimeoutsChanged {
		t.Errorf("expected turn+vad+timeouts changes, got %+v", d)
	}
	if d.RestartRequired {
		t.Error("hot-applicable sections should not require restart")
	}
}

func TestDiff_AdapterChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Adapters = append([]config.AdapterEntry(nil), old.Adapters...)
	new.Adapters[0] = config.AdapterEntry{Kind: config.KindRecognizer, Name: "whisper"}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("adapter swap should require restart")
	}
	if d.HotApplicable() {
		t.Errorf("adapter swap alone should not be hot-applicable: %+v", d)
	}
}

func TestDiff_AdapterOptionChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Adapters = append([]config.AdapterEntry(nil), old.Adapters...)
	new.Adapters[1].Options = map[string]string{"threshold": "0.5"}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("adapter option change should require restart")
	}
}

func TestDiff_SessionStoreChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.SessionStore.Name = "redis"
	new.SessionStore.Options = map[string]string{"addr": "localhost:6379"}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("session store change should require restart")
	}
}

func TestDiff_ServerAddressChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.Port = 9999

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("port change should require restart")
	}
}

func TestDiff_KnowledgeAndAuditRequireRestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Knowledge.Enabled = true
	new.Knowledge.DSN = "postgres://localhost/kb"
	new.Knowledge.Embedder = "openai"
	new.Audit.Path = "/tmp/audit.jsonl"

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("knowledge/audit changes should require restart")
	}
}
