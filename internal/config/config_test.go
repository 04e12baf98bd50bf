package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evowfc/evowfc/internal/launch"
)

func TestLoadMissingDefaultFallsBack(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "local" {
		t.Errorf("default backend = %s, want local", cfg.Backend)
	}
	if cfg.Map.Width != 20 || cfg.Map.Height != 12 || cfg.Map.Tileset != "biome" {
		t.Errorf("unexpected map defaults: %+v", cfg.Map)
	}
	if cfg.CI.RuffVersion != "0.4.4" {
		t.Errorf("CI defaults not applied: %+v", cfg.CI)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("explicit missing config must error")
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Backend = "slurm"
	cfg.Slurm.Host = "hpc.example.edu"
	cfg.Slurm.User = "researcher"
	cfg.VenvPath = "venv"
	cfg.Directives.MailUser = "ops@example.com"
	cfg.Directives.TimeLimit = launch.Duration(6 * time.Hour)

	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Backend != "slurm" || got.Slurm.Host != "hpc.example.edu" {
		t.Errorf("slurm settings lost: %+v", got.Slurm)
	}
	if got.Directives.MailUser != "ops@example.com" || got.Directives.TimeLimit != launch.Duration(6*time.Hour) {
		t.Errorf("directives lost: %+v", got.Directives)
	}
	if got.VenvPath != "venv" {
		t.Errorf("venv path lost: %q", got.VenvPath)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend: slurm\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "slurm" {
		t.Errorf("backend override lost")
	}
	if cfg.Map.Tileset != "biome" || cfg.Slurm.Port != 22 {
		t.Errorf("unset fields should keep defaults: %+v %+v", cfg.Map, cfg.Slurm)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("backend: [unclosed\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("bad YAML must error")
	}
}

func TestLoadSecretsEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	content := "# relay credentials\nSMTP_PASSWORD = hunter2\n\nOTHER=value\nbroken line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}
	secrets, err := LoadSecretsEnv(path)
	if err != nil {
		t.Fatalf("LoadSecretsEnv: %v", err)
	}
	if secrets["SMTP_PASSWORD"] != "hunter2" {
		t.Errorf("SMTP_PASSWORD = %q", secrets["SMTP_PASSWORD"])
	}
	if secrets["OTHER"] != "value" {
		t.Errorf("OTHER = %q", secrets["OTHER"])
	}
	if len(secrets) != 2 {
		t.Errorf("comment/broken lines leaked: %v", secrets)
	}
}

func TestSecretsMergeFromEnv(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SMTP_PASSWORD", "from-env")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SMTPPassword != "from-env" {
		t.Errorf("SMTPPassword = %q, want from-env", cfg.SMTPPassword)
	}
}

func TestSecretsMergeFromFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	t.Setenv("SMTP_PASSWORD", "")
	dir := filepath.Join(base, "evowfc")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("SMTP_PASSWORD=from-file\n"), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SMTPPassword != "from-file" {
		t.Errorf("SMTPPassword = %q, want from-file", cfg.SMTPPassword)
	}
}

func TestWrittenTimeLimitIsReadable(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := Write(path, Default()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "time_limit: 24h0m0s") {
		t.Errorf("time limit not written as a duration string:\n%s", raw)
	}
	if strings.Contains(string(raw), "86400000000000") {
		t.Errorf("time limit written as raw nanoseconds:\n%s", raw)
	}
}

func TestLoadHandEditedTimeLimit(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "directives:\n  time_limit: 6h30m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Directives.TimeLimit != launch.Duration(6*time.Hour+30*time.Minute) {
		t.Errorf("time limit = %v", time.Duration(cfg.Directives.TimeLimit))
	}
}
