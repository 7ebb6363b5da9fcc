package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "quotebot.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"schedule": {"timezone": "UTC", "crons": ["0 20 * * *", "30 21 * * *"]},
		"storage": {"driver": "file", "path": "./store"}
	}`)

	m := NewConfigManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q", cfg.Logging.Level)
	}
	if len(cfg.Schedule.Crons) != 2 {
		t.Fatalf("Schedule.Crons = %v", cfg.Schedule.Crons)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("Storage = %+v", cfg.Storage)
	}
	if !cfg.ScheduleEnabled() {
		t.Fatal("ScheduleEnabled() = false for omitted enabled")
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "quotebot.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
schedule:
  enabled: false
  timezone: UTC
`)

	m := NewConfigManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.ScheduleEnabled() {
		t.Fatal("ScheduleEnabled() = true for explicit false")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "quotebot.json", `{"schedule": {"enabled": true, "cronz": []}}`)

	m := NewConfigManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "quotebot.json", `{"schedule": {"enabled": true}}{"extra": 1}`)

	m := NewConfigManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseIdempotent(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "quotebot.json", `{
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
		"schedule": {"crons": ["0 20 * * *", "30 21 * * *", "30 1 * * *", "30 3 * * *", "30 10 * * *", "30 18 * * *"]}
	}`)

	m := NewConfigManager(path)
	first, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	second, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if hashConfig(first) != hashConfig(second) {
		t.Fatal("identical bytes produced different config hashes")
	}
}

func TestEmptyPathRunsOnDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if !cfg.ScheduleEnabled() {
		t.Fatal("defaults should leave the schedule enabled")
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() did not return the committed config")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "go duration", raw: "90s", want: "1m30s"},
		{name: "bare seconds", raw: "30", want: "30s"},
		{name: "empty", raw: "", want: "0s"},
		{name: "negative", raw: "-5s", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDurationField("test.field", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
			}
			if d.String() != tt.want {
				t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, d, tt.want)
			}
		})
	}
}
