package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/smazurov/relaynode/internal/logging"
	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string `help:"Config file path"`

	Port            string   `toml:"server.port" env:"SERVER_PORT"`
	RelayPath       string   `toml:"relay.path" env:"RELAY_PATH"`
	MaxRestarts     int      `toml:"relay.max_restart_attempts" env:"RELAY_MAX_RESTART_ATTEMPTS"`
	MetricsEnabled  bool     `toml:"metrics.enabled" env:"METRICS_ENABLED"`
	AllowedOrigins  []string `toml:"relay.allowed_origins" env:"RELAY_ALLOWED_ORIGINS"`
	LoggingRelay    string   `toml:"logging.relay" env:"LOGGING_RELAY"`
	UntaggedSetting string
}

const sampleTOML = `
[server]
port = ":9999"

[relay]
path = "/media"
max_restart_attempts = 5
restart_delay_ms = 250
allowed_origins = ["https://studio.local", "https://backup.local"]

[metrics]
enabled = true

[logging]
level = "warn"
format = "json"
relay = "debug"
ffmpeg = "error"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	opts := &testOptions{Config: writeConfig(t, sampleTOML), Port: ":8090"}

	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != ":9999" {
		t.Errorf("Port = %q, want :9999", opts.Port)
	}
	if opts.RelayPath != "/media" {
		t.Errorf("RelayPath = %q, want /media", opts.RelayPath)
	}
	if opts.MaxRestarts != 5 {
		t.Errorf("MaxRestarts = %d, want 5", opts.MaxRestarts)
	}
	if !opts.MetricsEnabled {
		t.Error("MetricsEnabled should be true")
	}
	want := []string{"https://studio.local", "https://backup.local"}
	if !reflect.DeepEqual(opts.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", opts.AllowedOrigins, want)
	}
	if opts.LoggingRelay != "debug" {
		t.Errorf("LoggingRelay = %q, want debug", opts.LoggingRelay)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	t.Setenv("RELAYNODE_SERVER_PORT", ":7000")
	t.Setenv("RELAYNODE_RELAY_ALLOWED_ORIGINS", " a , b ")
	t.Setenv("RELAYNODE_METRICS_ENABLED", "false")

	opts := &testOptions{Config: writeConfig(t, sampleTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != ":7000" {
		t.Errorf("Port = %q, want :7000", opts.Port)
	}
	if !reflect.DeepEqual(opts.AllowedOrigins, []string{"a", "b"}) {
		t.Errorf("AllowedOrigins = %v", opts.AllowedOrigins)
	}
	if opts.MetricsEnabled {
		t.Error("env should have disabled metrics")
	}
	if opts.MaxRestarts != 5 {
		t.Errorf("MaxRestarts = %d, want 5 from TOML", opts.MaxRestarts)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	t.Setenv("RELAYNODE_SERVER_PORT", ":7000")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("port", ":8090", "")
	if err := cmd.Flags().Set("port", ":6000"); err != nil {
		t.Fatal(err)
	}

	opts := &testOptions{Config: writeConfig(t, sampleTOML), Port: ":6000"}
	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Port != ":6000" {
		t.Errorf("Port = %q, CLI value should win", opts.Port)
	}
	if opts.RelayPath != "/media" {
		t.Errorf("RelayPath = %q, unchanged flags should still load from TOML", opts.RelayPath)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), Port: ":8090"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if opts.Port != ":8090" {
		t.Errorf("Port = %q, default should be kept", opts.Port)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	opts := &testOptions{Config: writeConfig(t, "[relay\nnot toml")}
	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"relay": map[string]any{
			"ffmpeg": map[string]any{"binary": "/usr/bin/ffmpeg"},
			"path":   "/ws",
		},
		"root": "value",
	}

	tests := []struct {
		path string
		want any
	}{
		{"root", "value"},
		{"relay.path", "/ws"},
		{"relay.ffmpeg.binary", "/usr/bin/ffmpeg"},
		{"missing", nil},
		{"root.child", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":               "port",
		"LoggingLevel":       "logging-level",
		"RelayMaxMessageLen": "relay-max-message-len",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadRuntime(t *testing.T) {
	defaults := Runtime{
		Logging:            logging.Config{Level: "info", Format: "text", Modules: map[string]string{"api": "warn"}},
		MaxRestartAttempts: 3,
		RestartDelay:       500 * time.Millisecond,
	}

	rt, err := LoadRuntime(writeConfig(t, sampleTOML), defaults)
	if err != nil {
		t.Fatalf("LoadRuntime failed: %v", err)
	}

	if rt.MaxRestartAttempts != 5 {
		t.Errorf("MaxRestartAttempts = %d, want 5", rt.MaxRestartAttempts)
	}
	if rt.RestartDelay != 250*time.Millisecond {
		t.Errorf("RestartDelay = %v, want 250ms", rt.RestartDelay)
	}
	if rt.Logging.Level != "warn" || rt.Logging.Format != "json" {
		t.Errorf("Logging = %+v", rt.Logging)
	}
	wantModules := map[string]string{"api": "warn", "relay": "debug", "ffmpeg": "error"}
	if !reflect.DeepEqual(rt.Logging.Modules, wantModules) {
		t.Errorf("Modules = %v, want %v", rt.Logging.Modules, wantModules)
	}
	if _, leaked := defaults.Logging.Modules["relay"]; leaked {
		t.Error("LoadRuntime must not mutate the defaults map")
	}
}

func TestLoadRuntimeKeepsDefaults(t *testing.T) {
	defaults := Runtime{MaxRestartAttempts: 3, RestartDelay: time.Second}

	rt, err := LoadRuntime(writeConfig(t, "[server]\nport = \":1\"\n"), defaults)
	if err != nil {
		t.Fatal(err)
	}
	if rt.MaxRestartAttempts != 3 || rt.RestartDelay != time.Second {
		t.Errorf("defaults not kept: %+v", rt)
	}
}

func TestLoadConfigListIntoStringField(t *testing.T) {
	opts := &struct {
		Config  string
		Origins string `toml:"relay.allowed_origins"`
	}{Config: writeConfig(t, sampleTOML)}

	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.Origins != "https://studio.local,https://backup.local" {
		t.Errorf("Origins = %q", opts.Origins)
	}
}
