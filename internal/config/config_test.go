package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite runs every test with a scratch HOME and XDG directories.
type ConfigSuite struct {
	suite.Suite
	tempDir string
	path    string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.T().Setenv("HOME", s.tempDir)
	s.T().Setenv("XDG_CONFIG_HOME", filepath.Join(s.tempDir, "config"))
	s.T().Setenv("XDG_DATA_HOME", filepath.Join(s.tempDir, "data"))
	s.T().Setenv("PORT", "")
	s.path = ConfigPath()
}

func (s *ConfigSuite) write(content string) {
	s.Require().NoError(os.MkdirAll(filepath.Dir(s.path), 0750))
	s.Require().NoError(os.WriteFile(s.path, []byte(content), 0600))
}

func (s *ConfigSuite) TestPaths() {
	s.Equal(filepath.Join(s.tempDir, "config", "claude-ui", "config.json"), ConfigPath())
	s.Equal(filepath.Join(s.tempDir, "data", "claude-ui"), DataDir())
	s.Equal(filepath.Join("d", "sessions.db"), DBPath("d"))
	s.Equal(filepath.Join("d", "messages"), MessagesDir("d"))
}

func (s *ConfigSuite) TestPathsFallBackToHome() {
	s.T().Setenv("XDG_CONFIG_HOME", "")
	s.T().Setenv("XDG_DATA_HOME", "")

	s.Equal(filepath.Join(s.tempDir, ".config", "claude-ui", "config.json"), ConfigPath())
	s.Equal(filepath.Join(s.tempDir, ".local", "share", "claude-ui"), DataDir())
}

func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultPort, cfg.Port)
	s.Equal(DefaultHost, cfg.Host)
	s.Equal(s.tempDir, cfg.BaseDir)
	s.Empty(cfg.Presets)
	s.False(cfg.DangerouslySkipPermissions)
	s.False(cfg.DeferStart)
	s.Equal(DefaultAgentBinary, cfg.AgentBinary)
}

func (s *ConfigSuite) TestLegacyPortVariable() {
	s.T().Setenv("PORT", "4000")
	s.Equal(4000, Default().Port)

	s.T().Setenv("PORT", "not-a-port")
	s.Equal(DefaultPort, Default().Port)
}

func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name    string
		content string
		check   func(*AppConfig)
	}{
		{
			name:    "no file",
			content: "",
			check: func(cfg *AppConfig) {
				s.Equal(DefaultPort, cfg.Port)
				s.Equal(s.tempDir, cfg.BaseDir)
			},
		},
		{
			name:    "full file",
			content: `{"port":4242,"baseDir":"/srv/work","presets":[{"name":"api","prompt":"run tests"},{"name":"web"}],"dangerouslySkipPermissions":true,"deferStart":true,"defaultPrompt":"Hi"}`,
			check: func(cfg *AppConfig) {
				s.Equal(4242, cfg.Port)
				s.Equal("/srv/work", cfg.BaseDir)
				s.Equal([]Preset{{Name: "api", Prompt: "run tests"}, {Name: "web"}}, cfg.Presets)
				s.True(cfg.DangerouslySkipPermissions)
				s.True(cfg.DeferStart)
				s.Equal("Hi", cfg.DefaultPrompt)
				s.Equal(DefaultHost, cfg.Host)
			},
		},
		{
			name:    "out of range port falls back",
			content: `{"port":70000,"baseDir":"/srv"}`,
			check: func(cfg *AppConfig) {
				s.Equal(DefaultPort, cfg.Port)
			},
		},
		{
			name:    "nameless presets dropped",
			content: `{"baseDir":"/srv","presets":[{"name":"  "},{"name":" app "}]}`,
			check: func(cfg *AppConfig) {
				s.Equal([]Preset{{Name: "app"}}, cfg.Presets)
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			os.Remove(s.path)
			if tt.content != "" {
				s.write(tt.content)
			}

			cfg, err := Load(s.path)
			s.Require().NoError(err)
			tt.check(cfg)
		})
	}
}

func (s *ConfigSuite) TestLoadInvalidJSON() {
	s.write(`{invalid`)

	_, err := Load(s.path)
	s.Error(err)
}

func (s *ConfigSuite) TestEnvOverridesFile() {
	s.write(`{"port":4242,"baseDir":"/srv/work"}`)
	s.T().Setenv("CLAUDE_UI_PORT", "5151")
	s.T().Setenv("CLAUDE_UI_BASEDIR", "/from/env")

	cfg, err := Load(s.path)
	s.Require().NoError(err)
	s.Equal(5151, cfg.Port)
	s.Equal("/from/env", cfg.BaseDir)
}

func (s *ConfigSuite) TestValidate() {
	cfg := Default()
	s.NoError(cfg.Validate())

	cfg.BaseDir = "  "
	s.True(errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = Default()
	cfg.Port = 0
	s.True(errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = Default()
	cfg.Presets = []Preset{{Name: ""}}
	s.True(errors.Is(cfg.Validate(), ErrInvalidConfig))
}

func (s *ConfigSuite) TestSaveRoundTripsAndLeavesNoTempFiles() {
	cfg := Default()
	cfg.Presets = []Preset{{Name: "api", Prompt: "hello"}}
	cfg.DeferStart = true
	s.Require().NoError(Save(s.path, cfg))

	data, err := os.ReadFile(s.path)
	s.Require().NoError(err)
	var raw map[string]any
	s.Require().NoError(json.Unmarshal(data, &raw))
	s.Equal(true, raw["deferStart"])
	s.Contains(raw, "dangerouslySkipPermissions")

	loaded, err := Load(s.path)
	s.Require().NoError(err)
	s.Equal(cfg.Presets, loaded.Presets)
	s.True(loaded.DeferStart)

	entries, err := os.ReadDir(filepath.Dir(s.path))
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *ConfigSuite) TestEnsureCreatesOnce() {
	s.Require().NoError(Ensure(s.path))
	_, err := os.Stat(s.path)
	s.Require().NoError(err)

	s.write(`{"port":4242,"baseDir":"/srv"}`)
	s.Require().NoError(Ensure(s.path))

	cfg, err := Load(s.path)
	s.Require().NoError(err)
	s.Equal(4242, cfg.Port)
}

func (s *ConfigSuite) TestManagerUpdate() {
	m, err := NewManager(s.path)
	s.Require().NoError(err)
	s.False(m.BypassPermissions())

	updated, err := m.Update(AppConfig{
		Port:                       99999,
		BaseDir:                    " /srv/work ",
		Presets:                    []Preset{{Name: "api"}, {Name: ""}},
		DangerouslySkipPermissions: true,
		DeferStart:                 true,
		DefaultPrompt:              "Start",
	})
	s.Require().NoError(err)

	s.Equal(DefaultPort, updated.Port)
	s.Equal("/srv/work", updated.BaseDir)
	s.Equal([]Preset{{Name: "api"}}, updated.Presets)
	s.True(m.BypassPermissions())
	s.True(m.DeferStart())
	s.Equal("Start", m.DefaultPrompt())

	onDisk, err := Load(s.path)
	s.Require().NoError(err)
	s.Equal("/srv/work", onDisk.BaseDir)
	s.True(onDisk.DangerouslySkipPermissions)
}

func (s *ConfigSuite) TestManagerUpdateRejectsMissingBaseDir() {
	m, err := NewManager(s.path)
	s.Require().NoError(err)
	before := m.Current()

	_, err = m.Update(AppConfig{Port: 4000})
	s.True(errors.Is(err, ErrInvalidConfig))
	s.Equal(before, m.Current())
}

func (s *ConfigSuite) TestManagerCurrentIsACopy() {
	m, err := NewManager(s.path)
	s.Require().NoError(err)
	_, err = m.Update(AppConfig{BaseDir: "/srv", Presets: []Preset{{Name: "a"}}})
	s.Require().NoError(err)

	cfg := m.Current()
	cfg.Presets[0].Name = "changed"
	s.Equal("a", m.Current().Presets[0].Name)
}

func (s *ConfigSuite) TestManagerReloadKeepsLiveConfigOnBadFile() {
	m, err := NewManager(s.path)
	s.Require().NoError(err)
	_, err = m.Update(AppConfig{BaseDir: "/srv", DeferStart: true})
	s.Require().NoError(err)

	s.write(`{broken`)
	s.Error(m.Reload())
	s.True(m.DeferStart())
}

func (s *ConfigSuite) TestWatchPicksUpExternalEdits() {
	m, err := NewManager(s.path)
	s.Require().NoError(err)
	s.False(m.BypassPermissions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	s.write(`{"baseDir":"/srv","dangerouslySkipPermissions":true}`)

	s.Eventually(m.BypassPermissions, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(3 * time.Second):
		s.Fail("watch did not stop")
	}
}
