package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "INFO" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Audit.Driver != "sqlite" {
		t.Errorf("audit driver default = %q", cfg.Audit.Driver)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout default = %v", cfg.ShutdownTimeout)
	}
}

func TestLoadFileOverridesAndDurations(t *testing.T) {
	path := writeConfig(t, `
out_directory: /tmp/usbsas-test
shutdown_timeout: 30s
logging:
  level: DEBUG
  format: json
analyzer:
  enabled: true
  url: http://scanner.local/scan
  timeout: 2m
filter:
  deny_globs: ["*.exe", "autorun.inf"]
network:
  enabled: true
  description: archive server
  bucket: quarantine
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutDirectory != "/tmp/usbsas-test" {
		t.Errorf("OutDirectory = %q", cfg.OutDirectory)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if !cfg.Analyzer.Enabled || cfg.Analyzer.Timeout != 2*time.Minute {
		t.Errorf("Analyzer = %+v", cfg.Analyzer)
	}
	if len(cfg.Filter.DenyGlobs) != 2 {
		t.Errorf("DenyGlobs = %v", cfg.Filter.DenyGlobs)
	}
	if cfg.Network.Description != "archive server" {
		t.Errorf("Network.Description = %q", cfg.Network.Description)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: SHOUTING
`)
	if _, err := Load(path); err == nil {
		t.Fatal("invalid log level accepted")
	}
}

func TestLoadRejectsAnalyzerWithoutURL(t *testing.T) {
	path := writeConfig(t, `
analyzer:
  enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("analyzer enabled without url accepted")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.OutDirectory = "/tmp/usbsas-roundtrip"

	path := filepath.Join(t.TempDir(), "saved", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load(saved): %v", err)
	}
	if loaded.OutDirectory != "/tmp/usbsas-roundtrip" {
		t.Errorf("round-tripped OutDirectory = %q", loaded.OutDirectory)
	}
}
