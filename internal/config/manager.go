package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 100 * time.Millisecond

// Manager owns the live config. It is read when sessions start, so edits
// apply to the next session without a restart. Port and host changes need
// a restart.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *AppConfig
}

// NewManager loads the config at path, creating it with defaults if missing.
func NewManager(path string) (*Manager, error) {
	if err := Ensure(path); err != nil {
		return nil, fmt.Errorf("failed to create config %s: %w", path, err)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, cfg: cfg}, nil
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.path
}

// Current returns a copy of the live config.
func (m *Manager) Current() AppConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.cfg
	cfg.Presets = append([]Preset{}, m.cfg.Presets...)
	return cfg
}

// Update normalizes and validates cfg, writes it to disk and makes it live.
func (m *Manager) Update(cfg AppConfig) (AppConfig, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	if err := Save(m.path, &cfg); err != nil {
		return AppConfig{}, err
	}

	m.set(&cfg)
	log.Info().Str("path", m.path).Msg("Config updated")
	return m.Current(), nil
}

// Reload rereads the file. The live config is kept if the file is invalid.
func (m *Manager) Reload() error {
	cfg, err := Load(m.path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.set(cfg)
	return nil
}

func (m *Manager) set(cfg *AppConfig) {
	m.mu.Lock()
	prev := m.cfg
	m.cfg = cfg
	m.mu.Unlock()

	if prev.Port != cfg.Port || prev.Host != cfg.Host {
		log.Warn().Str("host", cfg.Host).Int("port", cfg.Port).Msg("Listen address changed; restart to apply")
	}
}

// BypassPermissions reports whether tool calls skip the permission prompt.
func (m *Manager) BypassPermissions() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.DangerouslySkipPermissions
}

// DeferStart reports whether prompt-less sessions wait for their first turn.
func (m *Manager) DeferStart() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.DeferStart
}

// DefaultPrompt is the first turn of a session created without a prompt.
func (m *Manager) DefaultPrompt() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.DefaultPrompt
}

// Watch reloads the config whenever the file changes on disk, until ctx is
// cancelled. It watches the parent directory so atomic replacements by
// editors are seen.
func (m *Manager) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(m.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(m.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := m.Reload(); err != nil {
					log.Warn().Err(err).Str("path", m.path).Msg("Ignoring invalid config change")
					return
				}
				log.Info().Str("path", m.path).Msg("Config reloaded")
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Config watcher error")
		}
	}
}
