package main

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFlagsAppliesDefaults(t *testing.T) {
	s, err := parseFlags(nil)
	require.NoError(t, err)
	require.Equal(t, "conductor.db", s.dbPath)
	require.Equal(t, "./workspaces", s.workspaceRoot)
	require.Equal(t, ":8080", s.listenAddr)
	require.Equal(t, "conductor", s.botAccountName)
	require.Equal(t, 2, s.tasksConcurrency)
	require.Equal(t, 5, s.subtasksConcurrency)
	require.Equal(t, 2*time.Second, s.pollInterval)
	require.False(t, s.showVersion)
}

func TestParseFlagsOverridesDefaults(t *testing.T) {
	s, err := parseFlags([]string{
		"-db", "test.db",
		"-listen", ":9090",
		"-tasks-concurrency", "4",
		"-subtasks-concurrency", "10",
		"-poll-interval", "500ms",
		"-bot-account", "ci-bot",
	})
	require.NoError(t, err)
	require.Equal(t, "test.db", s.dbPath)
	require.Equal(t, ":9090", s.listenAddr)
	require.Equal(t, 4, s.tasksConcurrency)
	require.Equal(t, 10, s.subtasksConcurrency)
	require.Equal(t, 500*time.Millisecond, s.pollInterval)
	require.Equal(t, "ci-bot", s.botAccountName)
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	_, err := parseFlags([]string{"-does-not-exist", "x"})
	require.Error(t, err)
}

func TestRunPrintsVersionAndExitsZero(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stdout")
	require.NoError(t, err)
	defer f.Close()

	code := run([]string{"-version"}, f)
	require.Equal(t, 0, code)

	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(f)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "conductor")
}

func TestRunRejectsBadFlags(t *testing.T) {
	code := run([]string{"-tasks-concurrency", "not-a-number"}, os.Stdout)
	require.Equal(t, 2, code)
}
