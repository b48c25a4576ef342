// Package config loads bridge settings from the environment and an
// optional YAML file. A .env file in the working directory is honored the
// same way the upstream tooling expects; real environment variables win
// over both file sources.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 22
	DefaultUsername       = "root"
	DefaultCharacterLimit = 25000
	DefaultMaxFileSize    = 10 * 1024 * 1024
)

// Config holds the connection and policy settings for one Proxmox host.
type Config struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	KeyPath        string `yaml:"key_path"`
	KnownHosts     string `yaml:"known_hosts"`
	AcceptRisks    bool   `yaml:"accept_risks"`
	EnableHostExec bool   `yaml:"enable_host_exec"`
	CharacterLimit int    `yaml:"character_limit"`
	MaxFileSize    int64  `yaml:"max_file_size"`
	AuditDB        string `yaml:"audit_db"`
}

// Addr returns the dial address for the SSH channel.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func defaults() Config {
	return Config{
		Port:           DefaultPort,
		Username:       DefaultUsername,
		CharacterLimit: DefaultCharacterLimit,
		MaxFileSize:    DefaultMaxFileSize,
	}
}

// DefaultPath resolves $XDG_CONFIG_HOME/pvemcp/config.yaml or
// ~/.config/pvemcp/config.yaml.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "pvemcp", "config.yaml")
}

// Load builds the configuration: defaults, then the YAML file (if present),
// then .env, then the process environment.
func Load(path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case explicit:
		return cfg, fmt.Errorf("open config: %w", err)
	}

	// Missing .env is fine; environment variables may carry everything.
	_ = godotenv.Load()
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("SSH_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("SSH_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("SSH_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("SSH_KEY"); v != "" {
		cfg.KeyPath = v
	}
	if v := os.Getenv("KNOWN_HOSTS"); v != "" {
		cfg.KnownHosts = v
	}
	if v := os.Getenv("I_ACCEPT_RISKS"); v != "" {
		cfg.AcceptRisks = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ENABLE_HOST_EXEC"); v != "" {
		cfg.EnableHostExec = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CHARACTER_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CharacterLimit = n
		}
	}
	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxFileSize = n
		}
	}
	if v := os.Getenv("AUDIT_DB"); v != "" {
		cfg.AuditDB = v
	}
}

const riskNotice = `you must explicitly accept the risks before using this software.
Set environment variable: I_ACCEPT_RISKS=true

By setting this to 'true', you acknowledge that:
  - You understand the risks of giving an AI system SSH access to your infrastructure
  - You are solely responsible for reviewing and approving commands
  - You have proper backups and disaster recovery procedures in place

See the README DISCLAIMER section for full details.`

// Validate checks that the configuration can establish a session.
func (c Config) Validate() error {
	if !c.AcceptRisks {
		return errors.New(riskNotice)
	}
	if c.Host == "" {
		return errors.New("HOST is required")
	}
	if c.Password == "" && c.KeyPath == "" {
		return errors.New("either SSH_PASSWORD or SSH_KEY must be set")
	}
	return nil
}
