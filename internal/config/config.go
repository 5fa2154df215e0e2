// Package config loads and persists the server's config.json and keeps a
// live copy of it for the rest of the process.
//
// Sources, highest priority first:
//  1. CLAUDE_UI_* environment variables (CLAUDE_UI_PORT, CLAUDE_UI_BASEDIR, ...)
//  2. config.json under $XDG_CONFIG_HOME/claude-ui
//  3. built-in defaults (PORT is honoured as the default port)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultPort is the HTTP port used when none is configured.
	DefaultPort = 3111
	// DefaultHost keeps the server on loopback unless configured otherwise.
	DefaultHost = "127.0.0.1"
	// DefaultAgentBinary is the agent CLI looked up on PATH.
	DefaultAgentBinary = "claude"

	envPrefix = "CLAUDE_UI"
)

// ErrInvalidConfig is returned when a config fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Preset is a workspace directory shown first in the picker, optionally with
// a prompt to start sessions there.
type Preset struct {
	Name   string `json:"name" mapstructure:"name"`
	Prompt string `json:"prompt,omitempty" mapstructure:"prompt"`
}

// AppConfig is the content of config.json.
type AppConfig struct {
	Port    int      `json:"port" mapstructure:"port"`
	Host    string   `json:"host" mapstructure:"host"`
	BaseDir string   `json:"baseDir" mapstructure:"baseDir"`
	Presets []Preset `json:"presets" mapstructure:"presets"`

	// DangerouslySkipPermissions runs every tool call without asking.
	DangerouslySkipPermissions bool `json:"dangerouslySkipPermissions" mapstructure:"dangerouslySkipPermissions"`
	// DeferStart keeps sessions created without a prompt idle until the
	// first message arrives.
	DeferStart    bool   `json:"deferStart" mapstructure:"deferStart"`
	DefaultPrompt string `json:"defaultPrompt,omitempty" mapstructure:"defaultPrompt"`
	AgentBinary   string `json:"agentBinary,omitempty" mapstructure:"agentBinary"`
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	baseDir, err := os.UserHomeDir()
	if err != nil {
		baseDir, _ = os.Getwd()
	}
	return &AppConfig{
		Port:        defaultPort(),
		Host:        DefaultHost,
		BaseDir:     baseDir,
		Presets:     []Preset{},
		AgentBinary: DefaultAgentBinary,
	}
}

// defaultPort honours the legacy PORT variable.
func defaultPort() int {
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && validPort(p) {
		return p
	}
	return DefaultPort
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}

// Normalize trims fields, drops presets without a name and replaces an
// out-of-range port or empty host with the default.
func (c *AppConfig) Normalize() {
	c.BaseDir = strings.TrimSpace(c.BaseDir)
	c.Host = strings.TrimSpace(c.Host)
	c.AgentBinary = strings.TrimSpace(c.AgentBinary)

	if !validPort(c.Port) {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.AgentBinary == "" {
		c.AgentBinary = DefaultAgentBinary
	}

	presets := make([]Preset, 0, len(c.Presets))
	for _, p := range c.Presets {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		presets = append(presets, Preset{Name: name, Prompt: p.Prompt})
	}
	c.Presets = presets
}

// Validate reports whether the config can be served.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("%w: baseDir is required", ErrInvalidConfig)
	}
	if !validPort(c.Port) {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	for i, p := range c.Presets {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: preset %d has no name", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Load reads the config at path, applying defaults and environment
// overrides. A missing file yields the defaults.
func Load(path string) (*AppConfig, error) {
	def := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("port", def.Port)
	v.SetDefault("host", def.Host)
	v.SetDefault("baseDir", def.BaseDir)
	v.SetDefault("presets", []Preset{})
	v.SetDefault("dangerouslySkipPermissions", false)
	v.SetDefault("deferStart", false)
	v.SetDefault("defaultPrompt", "")
	v.SetDefault("agentBinary", def.AgentBinary)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Ensure creates path with the default config if it does not exist.
func Ensure(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return Save(path, Default())
}
