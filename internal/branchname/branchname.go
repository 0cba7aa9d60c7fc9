// Package branchname generates a task's git branch name from
// workflow.branchPattern (spec §6, §8): a pure function of
// (pattern, taskId, title), so both the Task Processor and the Subtask
// Processor derive the same name for a task's first workspace prep
// regardless of which one gets there first.
package branchname

import "strings"

// DefaultPattern mirrors config.Workflow's zero-value default.
const DefaultPattern = "conductor/{task_id}/{short_description}"

const maxTaskIDLen = 8

// Generate substitutes {task_id} (the first 8 characters of taskID) and
// {short_description} (a lowercase, hyphenated slug of title, truncated
// to 50 characters) into pattern. An empty pattern falls back to
// DefaultPattern.
func Generate(pattern, taskID, title string) string {
	if pattern == "" {
		pattern = DefaultPattern
	}
	name := strings.ReplaceAll(pattern, "{task_id}", shortTaskID(taskID))
	name = strings.ReplaceAll(name, "{short_description}", shortDescription(title))
	return name
}

func shortTaskID(taskID string) string {
	if len(taskID) > maxTaskIDLen {
		return taskID[:maxTaskIDLen]
	}
	return taskID
}

func shortDescription(title string) string {
	const maxLen = 50
	lower := strings.ToLower(title)
	var b strings.Builder
	lastDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > maxLen {
		s = strings.Trim(s[:maxLen], "-")
	}
	if s == "" {
		return "task"
	}
	return s
}
