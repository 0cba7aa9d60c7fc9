// Package agentrunner spawns the coding-agent CLI as a subprocess, feeds
// it a prompt, and streams its newline-delimited JSON output into a
// structured Result: token usage, cost, files touched, and a progress
// callback. Grounded on the teacher's pkg/coder/claude package, trimmed
// of its Docker/MCP-proxy machinery since conductor runs the agent
// directly against a prepared git worktree, not inside a sandboxed
// container.
package agentrunner

import "time"

// DefaultBinary is the coding-agent executable invoked for every run.
const DefaultBinary = "claude"

const (
	// DefaultTimeout is the wall-clock cap on one invocation (spec §4.10).
	DefaultTimeout = 30 * time.Minute
	// KillGrace is how long a terminated process gets before SIGKILL.
	KillGrace = 5 * time.Second
	// MaxOutputSize is the stdout byte cap; exceeding it terminates the run.
	MaxOutputSize = 1 << 20 // 1 MiB
)

// RunOptions configures one agent invocation.
type RunOptions struct {
	WorkDir         string
	Prompt          string
	Model           string
	MaxTurns        int
	SystemPrompt    string
	AllowedTools    []string
	DisallowedTools []string
	Credential      string // value of the LLM API key env var
	Timeout         time.Duration
	OnProgress      func(preview string)
}

// Result is the outcome of one agent invocation (spec §4.10).
type Result struct {
	Success       bool
	ExitCode      int
	Output        string
	InputTokens   int64
	OutputTokens  int64
	TotalCostUSD  float64
	FilesModified []string
	Duration      time.Duration
}
