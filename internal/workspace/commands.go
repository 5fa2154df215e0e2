package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// maxDescription bounds command descriptions, in runes.
const maxDescription = 80

var headingPrefix = regexp.MustCompile(`^#+\s*`)

// Command is a slash command the agent understands in a workspace.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Commands lists the project commands in cwd/.claude/commands and the skills
// of its local plugins. Missing or unreadable sources are skipped.
func Commands(cwd string) []Command {
	commands := []Command{}
	if cwd == "" {
		return commands
	}
	commands = append(commands, markdownCommands(filepath.Join(cwd, ".claude", "commands"))...)
	commands = append(commands, pluginSkills(filepath.Join(cwd, ".claude", "local-plugins.json"))...)
	return commands
}

func markdownCommands(dir string) []Command {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	commands := make([]Command, 0, len(names))
	for _, file := range names {
		commands = append(commands, Command{
			Name:        "/" + strings.TrimSuffix(file, ".md"),
			Description: describe(filepath.Join(dir, file)),
		})
	}
	return commands
}

// describe returns the first non-empty line after any frontmatter, without
// heading markers.
func describe(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	inFrontmatter := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			inFrontmatter = !inFrontmatter
			continue
		}
		if inFrontmatter {
			continue
		}
		if text := strings.TrimSpace(headingPrefix.ReplaceAllString(line, "")); text != "" {
			return truncate(text)
		}
	}
	return ""
}

func pluginSkills(path string) []Command {
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return nil
	}

	plugins := gjson.ParseBytes(data)
	if !plugins.IsArray() {
		return nil
	}

	var commands []Command
	plugins.ForEach(func(_, plugin gjson.Result) bool {
		skills := plugin.Get("skills")
		if !skills.IsArray() {
			return true
		}
		skills.ForEach(func(_, skill gjson.Result) bool {
			name := skill.Get("name").String()
			if name == "" {
				return true
			}
			commands = append(commands, Command{
				Name:        "/" + name,
				Description: truncate(skill.Get("description").String()),
			})
			return true
		})
		return true
	})
	return commands
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxDescription {
		return string(r[:maxDescription])
	}
	return s
}
