package agentrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeAgentScript writes a shell script that mimics the agent CLI's
// stream-json output, standing in for the real binary in tests.
func fakeAgentScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent.sh")
	script := "#!/bin/sh\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunParsesUsageAndFileChanges(t *testing.T) {
	script := fakeAgentScript(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"looking at the failing test now"}]}}'
echo '{"type":"tool_use","tool_use":{"name":"Edit","input":{"file_path":"packages/api/handler.go"}}}'
echo '{"type":"result","result":{"success":true,"input_tokens":120,"output_tokens":45,"total_cost_usd":0.0031}}'
exit 0
`)

	var previews []string
	r := New().WithBinary(script)
	result, err := r.Run(context.Background(), RunOptions{
		WorkDir:    t.TempDir(),
		Prompt:     "fix the failing test",
		Credential: "test-key",
		Timeout:    5 * time.Second,
		OnProgress: func(p string) { previews = append(previews, p) },
	})

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, int64(120), result.InputTokens)
	require.Equal(t, int64(45), result.OutputTokens)
	require.InDelta(t, 0.0031, result.TotalCostUSD, 1e-9)
	require.Equal(t, []string{"packages/api/handler.go"}, result.FilesModified)
	require.Len(t, previews, 1)
}

func TestRunParsesFileChangesFromToolResult(t *testing.T) {
	script := fakeAgentScript(t, `
echo '{"type":"tool_result","tool_result":{"name":"Write","input":{"file_path":"packages/api/new_file.go"}}}'
echo '{"type":"result","result":{"success":true}}'
exit 0
`)

	r := New().WithBinary(script)
	result, err := r.Run(context.Background(), RunOptions{
		WorkDir:    t.TempDir(),
		Prompt:     "add a file",
		Credential: "test-key",
		Timeout:    5 * time.Second,
	})

	require.NoError(t, err)
	require.Equal(t, []string{"packages/api/new_file.go"}, result.FilesModified)
}

func TestRunNonZeroExitIsNotSuccess(t *testing.T) {
	script := fakeAgentScript(t, `
echo '{"type":"result","result":{"success":false,"input_tokens":10,"output_tokens":5,"total_cost_usd":0.0001}}'
exit 1
`)

	r := New().WithBinary(script)
	result, err := r.Run(context.Background(), RunOptions{WorkDir: t.TempDir(), Prompt: "x", Timeout: 5 * time.Second})

	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, 1, result.ExitCode)
}

func TestRunTimesOutOnSlowAgent(t *testing.T) {
	script := fakeAgentScript(t, `
sleep 5
echo '{"type":"result","result":{"success":true}}'
`)

	r := New().WithBinary(script)
	_, err := r.Run(context.Background(), RunOptions{WorkDir: t.TempDir(), Prompt: "x", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
}

func TestBuildArgsIncludesAllFlagsInOrder(t *testing.T) {
	r := New()
	args := r.buildArgs(RunOptions{
		Model:           "claude-sonnet-4-5",
		MaxTurns:        10,
		SystemPrompt:    "be terse",
		AllowedTools:    []string{"Edit", "Read"},
		DisallowedTools: []string{"Bash"},
		Prompt:          "implement the feature",
	})

	require.Equal(t, []string{
		"--print", "--output-format", "json", "--dangerously-skip-permissions",
		"--model", "claude-sonnet-4-5",
		"--max-turns", "10",
		"--system-prompt", "be terse",
		"--allowedTools", "Edit,Read",
		"--disallowedTools", "Bash",
		"implement the feature",
	}, args)
}
