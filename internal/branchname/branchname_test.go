package branchname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateUsesFirst8CharsOfTaskID(t *testing.T) {
	name := Generate(DefaultPattern, "0123456789abcdef", "Add hello world")
	require.Equal(t, "conductor/01234567/add-hello-world", name)
}

func TestGenerateTruncatesShortDescriptionAt50(t *testing.T) {
	title := strings.Repeat("word ", 20) // 100 chars before slugging
	name := Generate(DefaultPattern, "taskid12", title)
	parts := strings.SplitN(name, "/", 3)
	require.Len(t, parts, 3)
	require.LessOrEqual(t, len(parts[2]), 50)
}

func TestGenerateFallsBackToDefaultPatternWhenEmpty(t *testing.T) {
	name := Generate("", "taskid12", "Fix bug")
	require.Equal(t, "conductor/taskid12/fix-bug", name)
}

func TestGenerateSubstitutesIntoCustomPattern(t *testing.T) {
	name := Generate("story-{task_id}", "taskid1234", "Add feature")
	require.Equal(t, "story-taskid12", name)
}

func TestGenerateEmptyTitleFallsBackToTask(t *testing.T) {
	name := Generate(DefaultPattern, "taskid12", "***")
	require.Equal(t, "conductor/taskid12/task", name)
}
