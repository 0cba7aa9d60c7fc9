package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRendererParsesAllTemplates(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	for _, name := range allTemplates {
		_, ok := r.templates[name]
		require.True(t, ok, "missing template %s", name)
	}
}

func TestRenderDecomposerAnalysisIncludesSubprojectsAndPaths(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(DecomposerAnalysis, DecomposerAnalysisData{
		Title:        "Add hello",
		Description:  "Add hello() to src/index.ts",
		RepoFullName: "o/r",
		Subprojects:  []DecomposerSubproject{{Path: "packages/api", Name: "api", Language: "go"}},
		RepoPaths:    []string{"src/index.ts", "README.md"},
		MaxPaths:     500,
	})
	require.NoError(t, err)
	require.Contains(t, out, "Add hello")
	require.Contains(t, out, "packages/api")
	require.Contains(t, out, "src/index.ts")
}

func TestRenderFixerRequestListsIssues(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(FixerRequest, FixerRequestData{
		Title: "Add hello",
		Issues: []FixerIssue{
			{Severity: "error", File: "src/index.ts", Line: 10, Message: "missing export", Suggestion: "export function hello()"},
		},
	})
	require.NoError(t, err)
	require.True(t, strings.Contains(out, "[error] src/index.ts:10 missing export"))
}

func TestRenderUnknownTemplateErrors(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	_, err = r.Render(Name("nope.tpl.md"), nil)
	require.Error(t, err)
}
