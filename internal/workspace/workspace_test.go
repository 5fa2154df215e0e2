package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagz0ne/claude-web/internal/config"
)

func mkdirs(t *testing.T, base string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(base, n), 0750))
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestListPresetsFirstThenSorted(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "zeta", "alpha", "api", "web", ".hidden")
	writeFile(t, filepath.Join(base, "notes.txt"), "not a dir")

	got := List(base, []config.Preset{
		{Name: "web", Prompt: "start the dev server"},
		{Name: "missing"},
		{Name: "api"},
	})

	names := make([]string, len(got))
	for i, w := range got {
		names[i] = w.Name
	}
	assert.Equal(t, []string{"web", "api", "alpha", "zeta"}, names)
	assert.Equal(t, filepath.Join(base, "web"), got[0].Cwd)
	assert.Equal(t, "start the dev server", got[0].Prompt)
	assert.Empty(t, got[2].Prompt)
}

func TestListDuplicatePresetOnce(t *testing.T) {
	base := t.TempDir()
	mkdirs(t, base, "api")

	got := List(base, []config.Preset{{Name: "api"}, {Name: "api", Prompt: "again"}})
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Prompt)
}

func TestListMissingBaseDir(t *testing.T) {
	got := List(filepath.Join(t.TempDir(), "nope"), []config.Preset{{Name: "api"}})
	assert.Empty(t, got)
}

func TestCommandsFromMarkdown(t *testing.T) {
	cwd := t.TempDir()
	dir := filepath.Join(cwd, ".claude", "commands")
	writeFile(t, filepath.Join(dir, "review.md"), "---\nallowed-tools: Bash\n---\n\n# Review the current diff\n\nBody text.\n")
	writeFile(t, filepath.Join(dir, "deploy.md"), "Ship it to staging\n")
	writeFile(t, filepath.Join(dir, "empty.md"), "---\n---\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	got := Commands(cwd)

	assert.Equal(t, []Command{
		{Name: "/deploy", Description: "Ship it to staging"},
		{Name: "/empty"},
		{Name: "/review", Description: "Review the current diff"},
	}, got)
}

func TestCommandsTruncateDescriptions(t *testing.T) {
	cwd := t.TempDir()
	long := strings.Repeat("é", 120)
	writeFile(t, filepath.Join(cwd, ".claude", "commands", "long.md"), long+"\n")

	got := Commands(cwd)
	require.Len(t, got, 1)
	assert.Equal(t, maxDescription, len([]rune(got[0].Description)))
}

func TestCommandsFromPluginSkills(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, ".claude", "local-plugins.json"), `[
		{"name":"tools","skills":[{"name":"lint","description":"Run the linters"},{"description":"no name"}]},
		{"name":"empty"},
		{"name":"more","skills":[{"name":"bench"}]}
	]`)

	got := Commands(cwd)

	assert.Equal(t, []Command{
		{Name: "/lint", Description: "Run the linters"},
		{Name: "/bench"},
	}, got)
}

func TestCommandsMarkdownBeforeSkills(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, ".claude", "commands", "fix.md"), "Fix things\n")
	writeFile(t, filepath.Join(cwd, ".claude", "local-plugins.json"), `[{"skills":[{"name":"lint"}]}]`)

	got := Commands(cwd)
	require.Len(t, got, 2)
	assert.Equal(t, "/fix", got[0].Name)
	assert.Equal(t, "/lint", got[1].Name)
}

func TestCommandsToleratesBadSources(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, ".claude", "local-plugins.json"), `{not json`)

	assert.Empty(t, Commands(cwd))
	assert.Empty(t, Commands(""))
	assert.NotNil(t, Commands(""))

	writeFile(t, filepath.Join(cwd, ".claude", "local-plugins.json"), `{"skills":[{"name":"x"}]}`)
	assert.Empty(t, Commands(cwd))
}
