package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/semplan/prompt"
)

// ErrMalformedBullet indicates a cell value that is not a memory bullet.
var ErrMalformedBullet = errors.New("agent: malformed bullet")

// ParseBullet reads an explanation and a summary key from a memory bullet.
//
// Accepted forms are a {"Explanation", "Summary_Key"} object, as a map or as
// JSON text, a list whose first element is such an object, and the bracketed
// text form "[explanation : key]". Parentheses are stripped from the key. The
// key must not be empty; the explanation may be.
func ParseBullet(v any) (explanation, key string, err error) {
	switch t := v.(type) {
	case map[string]any:
		return fromObject(t)
	case []any:
		if len(t) == 0 {
			return "", "", fmt.Errorf("%w: empty list", ErrMalformedBullet)
		}
		return ParseBullet(t[0])
	case string:
		return parseText(t)
	}
	return "", "", fmt.Errorf("%w: unexpected %T", ErrMalformedBullet, v)
}

func parseText(s string) (explanation, key string, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var decoded any
		if json.Unmarshal([]byte(s), &decoded) == nil {
			return ParseBullet(decoded)
		}
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedBullet, s)
	}
	return finish(s[:i], s[i+1:])
}

func fromObject(obj map[string]any) (explanation, key string, err error) {
	k, ok := obj["Summary_Key"]
	if !ok {
		return "", "", fmt.Errorf("%w: no Summary_Key", ErrMalformedBullet)
	}
	return finish(prompt.Text(obj["Explanation"]), prompt.Text(k))
}

func finish(explanation, key string) (string, string, error) {
	key = strings.TrimSpace(strings.NewReplacer("(", "", ")", "").Replace(key))
	if key == "" {
		return "", "", fmt.Errorf("%w: empty Summary_Key", ErrMalformedBullet)
	}
	return strings.TrimSpace(explanation), key, nil
}
