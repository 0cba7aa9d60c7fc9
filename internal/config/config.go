// Package config loads and validates the repository-root .conductor.yml
// configuration file, and holds the static model-pricing registry used to
// compute AgentRun costs.
//
// Mirrors the orchestrator's own config package: a single validated struct
// loaded once, accessed by value thereafter so callers cannot mutate the
// shared configuration out from under each other.
package config

import (
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// SchemaVersionPattern is the form of version string this loader accepts.
const SchemaVersionPattern = `^\d+\.\d+$`

// ModelPricing carries per-million-token USD rates for a known model.
type ModelPricing struct {
	InputCPM  float64 `yaml:"input_cpm"`
	OutputCPM float64 `yaml:"output_cpm"`
}

// KnownModels is the static pricing registry read by CostUSD. Unknown
// models fall back to zero cost rather than guessing.
//
//nolint:gochecknoglobals // static registry, mirrors the teacher's KnownModels
var KnownModels = map[string]ModelPricing{
	"claude-sonnet-4-5":        {InputCPM: 3.0, OutputCPM: 15.0},
	"claude-opus-4-5":          {InputCPM: 15.0, OutputCPM: 75.0},
	"claude-3-5-haiku-20241022": {InputCPM: 0.8, OutputCPM: 4.0},
	"gpt-4o":                   {InputCPM: 2.5, OutputCPM: 10.0},
	"gpt-4o-mini":              {InputCPM: 0.15, OutputCPM: 0.6},
}

// CostUSD computes the USD cost of a completion for a known model. Returns
// 0 for unknown models rather than erroring, since cost tracking is
// best-effort telemetry, not a correctness gate.
func CostUSD(model string, inputTokens, outputTokens int64) float64 {
	pricing, ok := KnownModels[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*pricing.InputCPM + float64(outputTokens)/1e6*pricing.OutputCPM
}

// ExplicitSubproject is one entry of subprojects.explicit.
type ExplicitSubproject struct {
	Path         string `yaml:"path"`
	Name         string `yaml:"name"`
	Language     string `yaml:"language,omitempty"`
	TestCommand  string `yaml:"testCommand,omitempty"`
	BuildCommand string `yaml:"buildCommand,omitempty"`
}

// AutoDetect controls glob-based subproject detection.
type AutoDetect struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// Subprojects groups subproject detection configuration.
type Subprojects struct {
	AutoDetect AutoDetect           `yaml:"autoDetect"`
	Explicit   []ExplicitSubproject `yaml:"explicit"`
}

// AgentConfig is per-role agent tuning (master/subAgent/codeReview).
type AgentConfig struct {
	Model             string `yaml:"model"`
	MaxTurns          int    `yaml:"maxTurns"`
	MaxParallel       int    `yaml:"maxParallel,omitempty"`
	TimeoutMinutes    int    `yaml:"timeoutMinutes,omitempty"`
}

// Agents groups per-role agent configuration.
type Agents struct {
	Master     AgentConfig `yaml:"master"`
	SubAgent   AgentConfig `yaml:"subAgent"`
	CodeReview AgentConfig `yaml:"codeReview"`
}

// Triggers controls which board column starts work.
type Triggers struct {
	StartColumn string `yaml:"startColumn"`
}

// Workflow groups branch naming, smoke testing, and merge policy.
type Workflow struct {
	Triggers           Triggers `yaml:"triggers"`
	BranchPattern      string   `yaml:"branchPattern"`
	AutoMerge          bool     `yaml:"autoMerge"`
	RequireSmokeTest   bool     `yaml:"requireSmokeTest"`
	SmokeTestWebhook   string   `yaml:"smokeTestWebhook"`
}

// ChannelConfig is one notification channel's settings.
type ChannelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Notifications groups per-channel notification configuration.
type Notifications struct {
	Telegram ChannelConfig `yaml:"telegram"`
	Slack    ChannelConfig `yaml:"slack"`
	Webhook  ChannelConfig `yaml:"webhook"`
}

// Security groups file/diff policy advisory limits.
type Security struct {
	BlockedPatterns []string `yaml:"blockedPatterns"`
	MaxFilesPerPr   int      `yaml:"maxFilesPerPr"`
	MaxLinesPerPr   int      `yaml:"maxLinesPerPr"`
}

// Project carries identification strings only.
type Project struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Config is the full parsed .conductor.yml document.
type Config struct {
	Version       string        `yaml:"version"`
	Project       Project       `yaml:"project"`
	Subprojects   Subprojects   `yaml:"subprojects"`
	Agents        Agents        `yaml:"agents"`
	Workflow      Workflow      `yaml:"workflow"`
	Notifications Notifications `yaml:"notifications"`
	Security      Security      `yaml:"security"`
}

// defaultPatterns is the auto-detect glob default.
var defaultPatterns = []string{"packages/*", "apps/*"}

// Default returns a Config with every default from spec.md §6 applied.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Subprojects: Subprojects{
			AutoDetect: AutoDetect{Enabled: true, Patterns: append([]string{}, defaultPatterns...)},
		},
		Agents: Agents{
			SubAgent: AgentConfig{MaxParallel: 5, TimeoutMinutes: 30},
		},
		Workflow: Workflow{
			Triggers:      Triggers{StartColumn: "Todo"},
			BranchPattern: "conductor/{task_id}/{short_description}",
		},
	}
}

var versionPattern = regexp.MustCompile(SchemaVersionPattern)

// Parse parses and validates raw YAML bytes into a Config, applying defaults
// for every key spec.md §6 marks as defaulted.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse .conductor.yml: %w", err)
	}
	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued optional fields that YAML unmarshal
// would otherwise leave at Go's zero value instead of spec.md's default.
func applyDefaults(cfg *Config) error {
	if len(cfg.Subprojects.AutoDetect.Patterns) == 0 {
		cfg.Subprojects.AutoDetect.Patterns = append([]string{}, defaultPatterns...)
	}
	if cfg.Agents.SubAgent.MaxParallel == 0 {
		cfg.Agents.SubAgent.MaxParallel = 5
	}
	if cfg.Agents.SubAgent.TimeoutMinutes == 0 {
		cfg.Agents.SubAgent.TimeoutMinutes = 30
	}
	if cfg.Workflow.Triggers.StartColumn == "" {
		cfg.Workflow.Triggers.StartColumn = "Todo"
	}
	if cfg.Workflow.BranchPattern == "" {
		cfg.Workflow.BranchPattern = "conductor/{task_id}/{short_description}"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}
	return nil
}

// Validate checks the structural invariants spec.md §6 requires.
func Validate(cfg *Config) error {
	if !versionPattern.MatchString(cfg.Version) {
		return fmt.Errorf("config: version %q does not match %s", cfg.Version, SchemaVersionPattern)
	}
	if cfg.Agents.SubAgent.MaxParallel < 1 || cfg.Agents.SubAgent.MaxParallel > 10 {
		return fmt.Errorf("config: agents.subAgent.maxParallel must be in [1,10], got %d", cfg.Agents.SubAgent.MaxParallel)
	}
	if cfg.Agents.SubAgent.TimeoutMinutes < 1 || cfg.Agents.SubAgent.TimeoutMinutes > 120 {
		return fmt.Errorf("config: agents.subAgent.timeoutMinutes must be in [1,120], got %d", cfg.Agents.SubAgent.TimeoutMinutes)
	}
	for _, sp := range cfg.Subprojects.Explicit {
		if sp.Path == "" || sp.Name == "" {
			return fmt.Errorf("config: subprojects.explicit entries require path and name")
		}
	}
	return nil
}

// singleton, mirroring the teacher's package-level Config access pattern.
var (
	mu      sync.RWMutex
	current *Config
)

// Set installs the process-wide Config (by value copy on read).
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

// Get returns a copy of the current Config, or the default Config if none
// has been loaded yet.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return *Default()
	}
	return *current
}
