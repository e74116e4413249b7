package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	AccountsDir    string        `json:"accounts_dir"`
	DataDir        string        `json:"data_dir"`
	DecryptCommand string        `json:"decrypt_command,omitempty"`
	Timezone       string        `json:"timezone,omitempty"`
	WriteTimeout   time.Duration `json:"-"`
	WatchDumps     bool          `json:"watch_dumps"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".chatwrapped")
	return Config{
		Host:         "127.0.0.1",
		Port:         8080,
		AccountsDir:  filepath.Join(dataDir, "accounts"),
		DataDir:      dataDir,
		WriteTimeout: 60 * time.Second,
		WatchDumps:   true,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, config file, and
// env, without parsing CLI flags. Use this for subcommands that
// manage their own flag sets.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	// The data dir env var must win before the config file is
	// located inside it.
	if v := os.Getenv("CHATWRAPPED_DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.AccountsDir = filepath.Join(v, "accounts")
	}

	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	cfg.loadEnv()
	return cfg, nil
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Host           string `json:"host"`
		Port           int    `json:"port"`
		AccountsDir    string `json:"accounts_dir"`
		DecryptCommand string `json:"decrypt_command"`
		Timezone       string `json:"timezone"`
		WatchDumps     *bool  `json:"watch_dumps"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if file.Host != "" {
		c.Host = file.Host
	}
	if file.Port != 0 {
		c.Port = file.Port
	}
	if file.AccountsDir != "" {
		c.AccountsDir = file.AccountsDir
	}
	if file.DecryptCommand != "" {
		c.DecryptCommand = file.DecryptCommand
	}
	if file.Timezone != "" {
		c.Timezone = file.Timezone
	}
	if file.WatchDumps != nil {
		c.WatchDumps = *file.WatchDumps
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("CHATWRAPPED_ACCOUNTS_DIR"); v != "" {
		c.AccountsDir = v
	}
	if v := os.Getenv("CHATWRAPPED_DECRYPT_COMMAND"); v != "" {
		c.DecryptCommand = v
	}
	if v := os.Getenv("CHATWRAPPED_TIMEZONE"); v != "" {
		c.Timezone = v
	}
}

// Location resolves the configured timezone, defaulting to the
// system zone when unset or invalid.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.String("accounts-dir", "", "Directory containing account data")
	fs.String("decrypt-command", "", "Command used to produce message dumps")
	fs.Bool("watch-dumps", true, "Rebuild indexes when dumps change")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "accounts-dir":
			cfg.AccountsDir = f.Value.String()
		case "decrypt-command":
			cfg.DecryptCommand = f.Value.String()
		case "watch-dumps":
			cfg.WatchDumps = f.Value.String() == "true"
		}
	})
}
