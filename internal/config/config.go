// Package config loads the tool's YAML configuration, resolving
// $XDG_CONFIG_HOME/evowfc/config.yaml or ~/.config/evowfc/config.yaml when
// no explicit path is given. SMTP credentials come from secrets.env so
// they never live in the YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evowfc/evowfc/internal/ci"
	"github.com/evowfc/evowfc/internal/launch"
)

// MapConfig sets the generated map geometry and tile vocabulary.
type MapConfig struct {
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Tileset string `yaml:"tileset"` // builtin name or path to a tileset file
}

// SlurmConfig locates the cluster head node.
type SlurmConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	KeyDir     string `yaml:"key_dir"`
	KnownHosts string `yaml:"known_hosts"`
	WorkDir    string `yaml:"workdir"`
}

// NotifyConfig configures the mail relay. Password comes from secrets.env
// under SMTP_PASSWORD.
type NotifyConfig struct {
	SMTPAddr  string `yaml:"smtp_addr"`
	From      string `yaml:"from"`
	Recipient string `yaml:"recipient"`
	Username  string `yaml:"username"`
}

// Config is the whole tool configuration.
type Config struct {
	Backend    string              `yaml:"backend"` // local or slurm
	StorePath  string              `yaml:"store_path"`
	VenvPath   string              `yaml:"venv_path"`
	Map        MapConfig           `yaml:"map"`
	Slurm      SlurmConfig         `yaml:"slurm"`
	Notify     NotifyConfig        `yaml:"notify"`
	Directives launch.DirectiveSet `yaml:"directives"`
	CI         ci.Config           `yaml:"ci"`

	// SMTPPassword is merged from secrets.env / environment, never YAML.
	SMTPPassword string `yaml:"-"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Backend:    "local",
		StorePath:  filepath.Join(configBase(), "evowfc", "studies.db"),
		Map:        MapConfig{Width: 20, Height: 12, Tileset: "biome"},
		Slurm:      SlurmConfig{Port: 22, WorkDir: "evowfc-jobs"},
		Directives: launch.DirectiveSet{Output: "logs/%x_%j.out", Error: "logs/%x_%j.err", TimeLimit: launch.Duration(24 * time.Hour), Nodes: 1, NTasks: 1, CPUsPerTask: 16, Memory: "32G"},
		CI:         ci.DefaultConfig(),
	}
}

func configBase() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return base
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(configBase(), "evowfc", "config.yaml")
}

// Load reads YAML configuration from path, falling back to DefaultPath.
// A missing default file yields Default() rather than an error; an
// explicit path must exist. secrets.env and the environment supply
// SMTP_PASSWORD.
func Load(path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			mergeSecrets(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	mergeSecrets(&cfg)
	return cfg, nil
}

func mergeSecrets(cfg *Config) {
	secrets, _ := LoadSecretsEnv("")
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		secrets["SMTP_PASSWORD"] = v
	}
	if v, ok := secrets["SMTP_PASSWORD"]; ok && v != "" {
		cfg.SMTPPassword = v
	}
}

// Write persists a config as YAML, creating parent directories.
func Write(path string, cfg Config) error {
	raw, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
