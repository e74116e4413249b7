package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir string, data any) {
	t.Helper()
	out, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(
		filepath.Join(dir, "config.json"), out, 0o600,
	); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 8080 {
		t.Errorf("unexpected defaults: %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.AccountsDir == "" || cfg.DataDir == "" {
		t.Error("expected non-empty directories")
	}
	if cfg.WriteTimeout != 60*time.Second {
		t.Errorf("WriteTimeout = %v", cfg.WriteTimeout)
	}
	if !cfg.WatchDumps {
		t.Error("WatchDumps should default to true")
	}
}

func TestLoadLayering(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CHATWRAPPED_DATA_DIR", dataDir)
	t.Setenv("CHATWRAPPED_ACCOUNTS_DIR", "")
	t.Setenv("CHATWRAPPED_DECRYPT_COMMAND", "")
	t.Setenv("CHATWRAPPED_TIMEZONE", "")

	writeConfig(t, dataDir, map[string]any{
		"port":            9999,
		"accounts_dir":    "/srv/accounts",
		"decrypt_command": "decrypt-chat --all",
		"watch_dumps":     false,
	})

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.AccountsDir != "/srv/accounts" {
		t.Errorf("AccountsDir = %q", cfg.AccountsDir)
	}
	if cfg.DecryptCommand != "decrypt-chat --all" {
		t.Errorf("DecryptCommand = %q", cfg.DecryptCommand)
	}
	if cfg.WatchDumps {
		t.Error("WatchDumps should be false from config file")
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want default", cfg.Host)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CHATWRAPPED_DATA_DIR", dataDir)
	t.Setenv("CHATWRAPPED_ACCOUNTS_DIR", "/env/accounts")

	writeConfig(t, dataDir, map[string]any{
		"accounts_dir": "/file/accounts",
	})

	cfg, err := LoadMinimal()
	if err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
	if cfg.AccountsDir != "/env/accounts" {
		t.Errorf("AccountsDir = %q, want env value", cfg.AccountsDir)
	}
}

func TestFlagsOverrideAll(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CHATWRAPPED_DATA_DIR", dataDir)
	t.Setenv("CHATWRAPPED_ACCOUNTS_DIR", "/env/accounts")

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	RegisterServeFlags(fs)
	if err := fs.Parse([]string{
		"-port", "7000", "-accounts-dir", "/flag/accounts",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Port)
	}
	if cfg.AccountsDir != "/flag/accounts" {
		t.Errorf("AccountsDir = %q, want flag value", cfg.AccountsDir)
	}
}

func TestUnsetFlagsDoNotOverride(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CHATWRAPPED_DATA_DIR", dataDir)
	t.Setenv("CHATWRAPPED_ACCOUNTS_DIR", "")

	writeConfig(t, dataDir, map[string]any{"port": 9001})

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	RegisterServeFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("Port = %d, want config-file value", cfg.Port)
	}
}

func TestMissingConfigFileIsFine(t *testing.T) {
	t.Setenv("CHATWRAPPED_DATA_DIR", t.TempDir())
	if _, err := LoadMinimal(); err != nil {
		t.Fatalf("LoadMinimal: %v", err)
	}
}

func TestInvalidConfigFileErrors(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CHATWRAPPED_DATA_DIR", dataDir)
	if err := os.WriteFile(
		filepath.Join(dataDir, "config.json"),
		[]byte("{not json"), 0o600,
	); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMinimal(); err == nil {
		t.Fatal("expected error for invalid config file")
	}
}

func TestLocation(t *testing.T) {
	c := Config{Timezone: "UTC"}
	if c.Location() != time.UTC {
		t.Error("expected UTC location")
	}
	c.Timezone = "not/a/zone"
	if c.Location() != time.Local {
		t.Error("invalid zone should fall back to local")
	}
	c.Timezone = ""
	if c.Location() != time.Local {
		t.Error("empty zone should fall back to local")
	}
}
