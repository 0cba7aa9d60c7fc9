package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ConfigFilename is the repository-root config file name the Decomposer
// looks for on the default branch.
const ConfigFilename = ".conductor.yml"

// LoadFile reads and parses the config file at path, returning the Default
// configuration unchanged if the file does not exist (absence of a
// .conductor.yml is not an error: the Decomposer falls back to auto-detect).
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(raw)
}

// LoadFromRepo loads .conductor.yml from a checked-out repository root.
func LoadFromRepo(repoDir string) (*Config, error) {
	return LoadFile(filepath.Join(repoDir, ConfigFilename))
}

var (
	nonAlnum     = regexp.MustCompile(`[^a-z0-9]+`)
	collapseDash = regexp.MustCompile(`-+`)
)

const maxShortDescriptionLen = 50

// BranchName renders workflow.branchPattern for a given task id and title.
// Pure function of (pattern, taskID, title): same inputs always produce the
// same branch name, which is required for idempotent re-enqueue/retry.
func BranchName(pattern, taskID, title string) string {
	shortID := taskID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	short := strings.ToLower(title)
	short = nonAlnum.ReplaceAllString(short, "-")
	short = collapseDash.ReplaceAllString(short, "-")
	short = strings.Trim(short, "-")
	if len(short) > maxShortDescriptionLen {
		short = short[:maxShortDescriptionLen]
		short = strings.Trim(short, "-")
	}

	name := pattern
	name = strings.ReplaceAll(name, "{task_id}", shortID)
	name = strings.ReplaceAll(name, "{short_description}", short)
	return name
}
