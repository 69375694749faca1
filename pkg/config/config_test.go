package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/WessleyAI/diagtrace/engine/correlate"
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

// clearEnv blanks every variable Load reads; blank counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvFile, "DIAG_LINE_WINDOW", "DIAG_TIME_WINDOW", "DIAG_EXCERPT_LIMIT", "DIAG_VOLTAGE_LOW",
		"DIAG_VOLTAGE_HIGH", "DIAG_WORKERS", "DIAG_EDGES", "DIAG_TABLES", "DIAG_HISTORY_DB",
		"NEO4J_URL", "NEO4J_USER", "NEO4J_PASS", "DIAG_NEO4J_DATABASE", "QDRANT_URL",
		"DIAG_QDRANT_COLLECTION", "NATS_URL", "DIAG_NATS_QUEUE", "OPENAI_API_KEY", "DIAG_LLM_BASE_URL",
		"DIAG_LLM_MODEL", "DIAG_LLM_RATE", "DIAG_LLM_TIMEOUT", "PORT", "DIAG_CORS_ORIGIN",
		"DIAG_CACHE_SIZE", "LOG_LEVEL", "DIAG_LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), *cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "diag.yaml", `
engine:
  line_window: 12
  time_window: 4s
  edges:
    - "power_voltage->communication"
history:
  path: /var/lib/diagtrace/history.db
api:
  port: "9090"
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.LineWindow != 12 || cfg.Engine.TimeWindow != 4*time.Second {
		t.Errorf("engine windows = %d, %s", cfg.Engine.LineWindow, cfg.Engine.TimeWindow)
	}
	if cfg.Engine.ExcerptLimit != 200 || cfg.Engine.VoltageLow != 12.0 {
		t.Errorf("unset keys lost their defaults: %+v", cfg.Engine)
	}
	if cfg.History.Path != "/var/lib/diagtrace/history.db" || cfg.API.Port != "9090" || cfg.Log.Level != "debug" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"DIAG_LINE_WINDOW": "45",
		"DIAG_TIME_WINDOW": "2s",
		"DIAG_VOLTAGE_LOW": "11.5",
		"DIAG_EDGES":       "security->programming, can_bus->communication",
		"NATS_URL":         "nats://bus:4222",
		"PORT":             "8181",
		"LOG_LEVEL":        "warn",
	}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.Engine.LineWindow = 45
	want.Engine.TimeWindow = 2 * time.Second
	want.Engine.VoltageLow = 11.5
	want.Engine.Edges = []string{"security->programming", "can_bus->communication"}
	want.NATS.URL = "nats://bus:4222"
	want.API.Port = "8181"
	want.Log.Level = "warn"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("env mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvBadValues(t *testing.T) {
	tests := map[string]string{
		"DIAG_LINE_WINDOW": "thirty",
		"DIAG_TIME_WINDOW": "10 parsecs",
		"DIAG_VOLTAGE_LOW": "low",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			cfg := Default()
			err := cfg.applyEnv(func(k string) (string, bool) {
				if k == key {
					return val, true
				}
				return "", false
			})
			if err == nil {
				t.Fatalf("%s=%q accepted", key, val)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"negative window", func(c *Config) { c.Engine.LineWindow = -1 }, true},
		{"inverted voltage band", func(c *Config) { c.Engine.VoltageLow = 16 }, true},
		{"unknown category edge", func(c *Config) { c.Engine.Edges = []string{"security->weather"} }, true},
		{"malformed edge", func(c *Config) { c.Engine.Edges = []string{"security"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnalyzerOptions(t *testing.T) {
	tables := writeFile(t, "tables.yaml", `
ecus:
  "7E0":
    name: Engine Computer
    critical: true
`)
	cfg := Default()
	cfg.Engine.Edges = []string{"power_voltage->communication"}
	cfg.Tables.Path = tables

	opts, err := cfg.AnalyzerOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Window != (correlate.Window{Lines: 30, Duration: 10 * time.Second}) {
		t.Errorf("window = %+v", opts.Window)
	}
	wantEdges := []correlate.Edge{{From: domain.CategoryPowerVoltage, To: domain.CategoryCommunication}}
	if diff := cmp.Diff(wantEdges, opts.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
	if opts.Tables == nil || opts.Tables.ECUName("7E0") != "Engine Computer" {
		t.Fatalf("tables not loaded from file")
	}

	cfg.Tables.Path = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.AnalyzerOptions(); err == nil {
		t.Fatal("expected error for missing tables")
	}
}
