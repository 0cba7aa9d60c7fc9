package agentrunner

import "encoding/json"

// streamEvent is one newline-delimited JSON object emitted by the agent
// CLI under --output-format json. Grounded on the teacher's
// pkg/coder/claude/parser.go StreamEvent, narrowed to the fields spec
// §4.10 actually consumes (usage/cost accounting and file-change
// detection), since conductor doesn't track tool_use IDs for anything.
type streamEvent struct {
	Type       string          `json:"type"`
	Message    *assistantMsg   `json:"message,omitempty"`
	Usage      *usageDelta     `json:"usage,omitempty"`
	Result     *finalResult    `json:"result,omitempty"`
	ToolUse    *toolInvocation `json:"tool_use,omitempty"`
	ToolResult *toolInvocation `json:"tool_result,omitempty"`
}

type assistantMsg struct {
	Content []contentBlock `json:"content,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type usageDelta struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

type finalResult struct {
	Success                 bool    `json:"success"`
	InputTokens             int64   `json:"input_tokens"`
	CacheCreationInputTokens int64  `json:"cache_creation_input_tokens"`
	CacheReadInputTokens    int64   `json:"cache_read_input_tokens"`
	OutputTokens            int64   `json:"output_tokens"`
	TotalCostUSD            float64 `json:"total_cost_usd"`
}

// toolInvocation carries a tool name and its input, shared by tool_use and
// tool_result events (spec §4.10 treats both as file-modification
// evidence when the tool is a write/edit tool).
type toolInvocation struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// writeToolNames are the tool names whose input carries a file path this
// package treats as "modified."
var writeToolNames = map[string]bool{
	"Edit":       true,
	"Write":      true,
	"MultiEdit":  true,
	"NotebookEdit": true,
}

// toolFilePath extracts a "file_path" field from a tool's JSON input, if
// the tool is a write/edit tool and the field is present.
func toolFilePath(name string, input json.RawMessage) (string, bool) {
	if !writeToolNames[name] || len(input) == 0 {
		return "", false
	}
	var decoded struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(input, &decoded); err != nil || decoded.FilePath == "" {
		return "", false
	}
	return decoded.FilePath, true
}

// assistantPreview returns the first n characters of an assistant
// message's text content, for progress callbacks (spec §4.10).
func assistantPreview(msg *assistantMsg, n int) string {
	if msg == nil {
		return ""
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			text := block.Text
			if len(text) > n {
				text = text[:n]
			}
			return text
		}
	}
	return ""
}
