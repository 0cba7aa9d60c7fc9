// Package subproject maps a repository's file paths into logical
// subprojects using explicit configuration entries and/or glob-pattern
// auto-detection, per spec §4.7 and the subprojects.* config keys. There is
// no teacher analog for this concern (SnapdragonPartners-maestro assumes a
// single-project repository); it follows the config package's own
// documented shape and, for the "one path segment per *" matching rule, the
// standard library's path/filepath.Match.
package subproject

import (
	"path/filepath"
	"sort"
	"strings"

	"conductor/internal/config"
)

// Subproject is one detected or explicitly configured logical unit within
// a monorepo.
type Subproject struct {
	Path         string
	Name         string
	Language     string
	TestCommand  string
	BuildCommand string
}

// Detector resolves repository paths into subprojects for one repo config.
type Detector struct {
	explicit    []Subproject
	autoDetect  bool
	patterns    []string
}

// NewDetector builds a Detector from the subprojects section of config.
func NewDetector(cfg config.Subprojects) *Detector {
	explicit := make([]Subproject, 0, len(cfg.Explicit))
	for _, e := range cfg.Explicit {
		explicit = append(explicit, Subproject{
			Path:         cleanPath(e.Path),
			Name:         e.Name,
			Language:     e.Language,
			TestCommand:  e.TestCommand,
			BuildCommand: e.BuildCommand,
		})
	}
	return &Detector{
		explicit:   explicit,
		autoDetect: cfg.AutoDetect.Enabled,
		patterns:   cfg.AutoDetect.Patterns,
	}
}

func cleanPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}
	return p
}

// Detect scans repoPaths (relative, slash-separated file paths from the
// repository tree) and returns every explicit entry, whether or not any
// path matches it, plus every auto-detected directory with at least one
// matching path. Explicit entries always take precedence over an auto-detected
// directory covering the same path; auto-detected directories are matched
// by treating each pattern segment "*" as matching exactly one path
// segment (filepath.Match on the leading N segments), consistent with the
// "packages/*, apps/*" default meaning one directory level.
func (d *Detector) Detect(repoPaths []string) []Subproject {
	byPath := map[string]Subproject{}
	for _, e := range d.explicit {
		byPath[e.Path] = e
	}

	if d.autoDetect {
		seen := map[string]bool{}
		for _, p := range repoPaths {
			dir := matchAutoDetectDir(p, d.patterns)
			if dir == "" || seen[dir] {
				continue
			}
			seen[dir] = true
			if _, exists := byPath[dir]; exists {
				continue
			}
			byPath[dir] = Subproject{Path: dir, Name: filepath.Base(dir)}
		}
	}

	result := make([]Subproject, 0, len(byPath))
	for _, sp := range byPath {
		result = append(result, sp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

// matchAutoDetectDir returns the subproject directory a file path belongs
// to under the configured glob patterns, or "" if none match. A pattern
// like "packages/*" matches "packages/<name>" as the subproject root; any
// file nested deeper (e.g. "packages/<name>/src/x.ts") belongs to the same
// subproject root.
func matchAutoDetectDir(path string, patterns []string) string {
	segments := strings.Split(path, "/")
	for _, pattern := range patterns {
		patternSegments := strings.Split(strings.Trim(pattern, "/"), "/")
		if len(segments) < len(patternSegments) {
			continue
		}
		matched := true
		for i, seg := range patternSegments {
			ok, err := filepath.Match(seg, segments[i])
			if err != nil || !ok {
				matched = false
				break
			}
		}
		if matched {
			return strings.Join(segments[:len(patternSegments)], "/")
		}
	}
	return ""
}

// Resolve returns the subproject a modified file path belongs to, or "."
// if it matches none of the detected/explicit subprojects (spec §4.7: a
// path outside any subproject belongs to the root).
func Resolve(subprojects []Subproject, path string) string {
	best := "."
	bestLen := -1
	for _, sp := range subprojects {
		if sp.Path == "." {
			continue
		}
		if path == sp.Path || strings.HasPrefix(path, sp.Path+"/") {
			if len(sp.Path) > bestLen {
				best = sp.Path
				bestLen = len(sp.Path)
			}
		}
	}
	return best
}
