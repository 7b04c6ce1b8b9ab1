package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
	}{
		{
			name:    "plain bullet",
			input:   `{"Explanation": "a fruit", "Summary_Key": "apple"}`,
			wantKey: "Summary_Key",
		},
		{
			name:    "fenced bullet with trailing prose",
			input:   "```json\n{\"Explanation\": \"a fruit\", \"Summary_Key\": \"apple\"}\n```\n\nHope this helps.",
			wantKey: "Explanation",
		},
		{
			name:    "leading prose",
			input:   "Here is the answer: {\"Summary_Key\": \"yes\"}",
			wantKey: "Summary_Key",
		},
		{
			name:    "comments and trailing commas",
			input:   "{\n  \"Explanation\": \"see http://example.com\", // source\n  \"Summary_Key\": \"x\",\n}",
			wantKey: "Explanation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := ExtractJSON(tt.input)
			require.NotEmpty(t, raw)

			var parsed map[string]any
			require.NoError(t, json.Unmarshal([]byte(raw), &parsed), raw)
			assert.Contains(t, parsed, tt.wantKey)
		})
	}
}

func TestExtractJSON_None(t *testing.T) {
	assert.Empty(t, ExtractJSON(""))
	assert.Empty(t, ExtractJSON("no json here"))
	assert.Empty(t, ExtractJSONArray("} backwards {"))
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
	}{
		{"plain", `["one", "two"]`, 2},
		{"fenced", "```json\n[{\"Summary_Key\": \"a\"}, {\"Summary_Key\": \"b\"}]\n```", 2},
		{"commented", "[\n  \"one\",  // first\n  \"two\"   // second\n]", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := ExtractJSONArray(tt.input)
			require.NotEmpty(t, raw)

			var parsed []any
			require.NoError(t, json.Unmarshal([]byte(raw), &parsed), raw)
			assert.Len(t, parsed, tt.wantLen)
		})
	}
}

func TestDecodeList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{name: "list", input: `[{"Summary_Key": "a"}, {"Summary_Key": "b"}]`, wantLen: 2},
		{name: "single object", input: `{"Summary_Key": "a", "Tags": ["x", "y"]}`, wantLen: 1},
		{name: "fenced list", input: "```\n[\"a\"]\n```", wantLen: 1},
		{name: "prose", input: "I cannot answer that.", wantErr: true},
		{name: "broken", input: `[{"Summary_Key": }]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeList(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
		})
	}
}

func TestStripLineComment(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no comment", `  "key": "value",`, `  "key": "value",`},
		{"trailing comment", `  "key": "value",  // a comment`, `  "key": "value",`},
		{"url preserved", `  "url": "http://example.com",`, `  "url": "http://example.com",`},
		{"url then comment", `  "url": "http://example.com",  // the url`, `  "url": "http://example.com",`},
		{"whole line", `  // note`, ``},
		{"escaped quote", `  "path": "a\"b//c",  // comment`, `  "path": "a\"b//c",`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripLineComment(tt.input))
		})
	}
}
