// Package workspace lists the directories sessions can be started in and the
// slash commands available inside one.
package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lagz0ne/claude-web/internal/config"
)

// Workspace is a directory under the base dir.
type Workspace struct {
	Name   string `json:"name"`
	Cwd    string `json:"cwd"`
	Prompt string `json:"prompt,omitempty"`
}

// List returns presets that exist under baseDir, in config order, followed
// by the remaining non-hidden directories sorted by name.
func List(baseDir string, presets []config.Preset) []Workspace {
	dirs := subdirs(baseDir)

	exists := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		exists[d] = true
	}

	result := make([]Workspace, 0, len(dirs))
	seen := make(map[string]bool, len(presets))
	for _, p := range presets {
		if !exists[p.Name] || seen[p.Name] {
			continue
		}
		result = append(result, Workspace{Name: p.Name, Cwd: filepath.Join(baseDir, p.Name), Prompt: p.Prompt})
		seen[p.Name] = true
	}

	for _, name := range dirs {
		if !seen[name] {
			result = append(result, Workspace{Name: name, Cwd: filepath.Join(baseDir, name)})
		}
	}
	return result
}

func subdirs(baseDir string) []string {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		log.Debug().Err(err).Str("baseDir", baseDir).Msg("Cannot list base dir")
		return nil
	}

	var dirs []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		// Follow symlinks.
		info, err := os.Stat(filepath.Join(baseDir, name))
		if err != nil || !info.IsDir() {
			continue
		}
		dirs = append(dirs, name)
	}
	sort.Strings(dirs)
	return dirs
}
