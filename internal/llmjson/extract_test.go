package llmjson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractFirstPrefersFirstBlock(t *testing.T) {
	text := "some preamble\n```json\n{\"a\":1}\n```\nmore text\n```json\n{\"a\":2}\n```"
	block, err := ExtractFirst(text)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, block)
}

func TestExtractFirstNoBlockErrors(t *testing.T) {
	_, err := ExtractFirst("no json here")
	require.ErrorIs(t, err, ErrNoJSONBlock)
}

func TestParseFirstUnmarshals(t *testing.T) {
	var out struct {
		Type string `json:"type"`
	}
	err := ParseFirst("```json\n{\"type\":\"simple\"}\n```", &out)
	require.NoError(t, err)
	require.Equal(t, "simple", out.Type)
}
