package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	// fencedPattern matches the body of a markdown code fence.
	fencedPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\s*```")
	// trailingCommaPattern matches a comma right before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ErrNoJSON is returned when a reply holds no JSON value of the wanted kind.
var ErrNoJSON = errors.New("llm: no JSON in reply")

// ExtractJSON returns the JSON object in an oracle reply, or "" when there is
// none. Code fences, line comments and trailing commas are tolerated.
func ExtractJSON(content string) string {
	return extract(content, '{', '}')
}

// ExtractJSONArray returns the JSON array in an oracle reply, or "".
func ExtractJSONArray(content string) string {
	return extract(content, '[', ']')
}

func extract(content string, openCh, closeCh byte) string {
	if m := fencedPattern.FindStringSubmatch(content); len(m) > 1 {
		body := strings.TrimSpace(m[1])
		if len(body) > 0 && body[0] == openCh {
			content = body
		}
	}
	start := strings.IndexByte(content, openCh)
	end := strings.LastIndexByte(content, closeCh)
	if start < 0 || end <= start {
		return ""
	}
	return cleanJSON(content[start : end+1])
}

// DecodeList parses a reply as a JSON list. A reply that holds a single object
// instead is returned as a one-element list.
func DecodeList(content string) ([]any, error) {
	if raw := ExtractJSONArray(content); raw != "" && firstJSONByte(content) != '{' {
		var list []any
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return list, nil
		}
	}
	if raw := ExtractJSON(content); raw != "" {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			return []any{obj}, nil
		}
	}
	return nil, ErrNoJSON
}

// firstJSONByte returns the first '[' or '{' in s, or 0.
func firstJSONByte(s string) byte {
	if i := strings.IndexAny(s, "[{"); i >= 0 {
		return s[i]
	}
	return 0
}

// cleanJSON strips line comments outside strings and trailing commas.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment removes a // comment unless it sits inside a string, so
// URLs in values survive.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		switch ch := line[i]; {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
