// Package config loads panel configuration from an optional YAML file,
// applies environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned (wrapped) when configuration validation fails.
var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultListenAddr  = ":8080"
	DefaultAPIBase     = "https://gitee.com/api/v5"
	DefaultBranch      = "master"
	DefaultTimeout     = 15 * time.Second
	DefaultWindow      = 24 * time.Hour
	DefaultExpireHours = 720
)

type Config struct {
	ListenAddr string      `yaml:"listen_addr"`
	Store      StoreConfig `yaml:"store"`
	Auth       AuthConfig  `yaml:"auth"`

	// PendingWindow bounds how old a pending request may be and still be
	// shown to the operator.
	PendingWindow time.Duration `yaml:"pending_window"`

	// DefaultExpireHours is used when an approve call omits expire_hours.
	DefaultExpireHours int `yaml:"default_expire_hours"`
}

// StoreConfig addresses the remote file store that acts as the database.
type StoreConfig struct {
	Token   string        `yaml:"token"`
	Repo    string        `yaml:"repo"` // "owner/name"
	APIBase string        `yaml:"api_base"`
	Branch  string        `yaml:"branch"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig configures operator authentication. Leaving both fields empty
// disables auth, which only makes sense for a local deployment.
type AuthConfig struct {
	OperatorToken string `yaml:"operator_token"`
	JWTSecret     string `yaml:"jwt_secret"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides on top, fills defaults, and validates.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddr: DefaultListenAddr,
		Store: StoreConfig{
			APIBase: DefaultAPIBase,
			Branch:  DefaultBranch,
			Timeout: DefaultTimeout,
		},
		PendingWindow:      DefaultWindow,
		DefaultExpireHours: DefaultExpireHours,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LICPANEL_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		// Hosting platforms hand out the port this way.
		c.ListenAddr = ":" + v
	}
	if v := os.Getenv("LICPANEL_GITEE_TOKEN"); v != "" {
		c.Store.Token = v
	}
	if v := os.Getenv("LICPANEL_GITEE_REPO"); v != "" {
		c.Store.Repo = v
	}
	if v := os.Getenv("LICPANEL_GITEE_API_BASE"); v != "" {
		c.Store.APIBase = v
	}
	if v := os.Getenv("LICPANEL_GITEE_BRANCH"); v != "" {
		c.Store.Branch = v
	}
	if v := os.Getenv("LICPANEL_OPERATOR_TOKEN"); v != "" {
		c.Auth.OperatorToken = v
	}
	if v := os.Getenv("LICPANEL_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("%w: store: %w", ErrInvalidConfig, err)
	}
	if c.PendingWindow <= 0 {
		return fmt.Errorf("%w: pending_window must be positive, got %v", ErrInvalidConfig, c.PendingWindow)
	}
	if c.DefaultExpireHours <= 0 {
		return fmt.Errorf("%w: default_expire_hours must be positive, got %d", ErrInvalidConfig, c.DefaultExpireHours)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if s.Token == "" {
		return fmt.Errorf("token is required")
	}
	if s.Repo == "" {
		return fmt.Errorf("repo is required")
	}
	owner, name, ok := strings.Cut(s.Repo, "/")
	if !ok || owner == "" || name == "" {
		return fmt.Errorf("repo %q must be owner/name", s.Repo)
	}
	if s.APIBase == "" {
		return fmt.Errorf("api_base is required")
	}
	if s.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", s.Timeout)
	}
	return nil
}
