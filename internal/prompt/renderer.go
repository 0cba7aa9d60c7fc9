// Package prompt renders the LLM-facing prompts the Decomposer, Reviewer,
// and Fixer send to the agent CLI. Grounded on the teacher's
// pkg/templates.Renderer: embedded *.tpl.md files parsed once at
// construction into text/template.Template values keyed by name.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tpl.md
var templateFS embed.FS

// Name identifies one embedded prompt template.
type Name string

const (
	MasterSystem       Name = "master_system.tpl.md"
	DecomposerAnalysis Name = "decomposer_analysis.tpl.md"
	ReviewerSystem     Name = "reviewer_system.tpl.md"
	ReviewerRequest    Name = "reviewer_request.tpl.md"
	FixerSystem        Name = "fixer_system.tpl.md"
	FixerRequest       Name = "fixer_request.tpl.md"
)

var allTemplates = []Name{
	MasterSystem, DecomposerAnalysis, ReviewerSystem, ReviewerRequest, FixerSystem, FixerRequest,
}

// Renderer holds every prompt template parsed once at construction.
type Renderer struct {
	templates map[Name]*template.Template
}

// NewRenderer parses the embedded template set.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[Name]*template.Template, len(allTemplates))}
	for _, name := range allTemplates {
		content, err := templateFS.ReadFile("templates/" + string(name))
		if err != nil {
			return nil, fmt.Errorf("prompt: read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("prompt: parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render executes the named template against data.
func (r *Renderer) Render(name Name, data any) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt: template %s not registered", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// DecomposerAnalysisData feeds the decomposer_analysis template.
type DecomposerAnalysisData struct {
	Title        string
	Description  string
	RepoFullName string
	Subprojects  []DecomposerSubproject
	RepoPaths    []string
	MaxPaths     int
	ConfigYAML   string
	ContextFiles []ContextFile
}

// DecomposerSubproject is one detected subproject shown to the model.
type DecomposerSubproject struct {
	Path     string
	Name     string
	Language string
}

// ContextFile is one repository file (README, CLAUDE.md, ...) shown to the
// decomposer for extra context.
type ContextFile struct {
	Path    string
	Content string
}

// ReviewerRequestData feeds the reviewer_request template.
type ReviewerRequestData struct {
	Title         string
	Description   string
	Iteration     int
	DiffAvailable bool
	BaseBranch    string
	HeadBranch    string
	Diff          string
	Files         []ContextFile
}

// FixerRequestData feeds the fixer_request template.
type FixerRequestData struct {
	Title  string
	Issues []FixerIssue
}

// FixerIssue is one review issue to resolve.
type FixerIssue struct {
	Severity   string
	File       string
	Line       int
	Message    string
	Suggestion string
}
