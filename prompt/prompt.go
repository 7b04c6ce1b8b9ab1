// Package prompt renders oracle prompts from "$name" templates.
//
// Template variables are resolved through a closed table of named derivations
// computed from a small environment of base values (the cognition name, value
// and concept, and the perception names, values and concepts of one cell).
// Variables without a derivation, or whose derivation fails, are left in the
// output unchanged.
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Env holds the base values a template is rendered from.
type Env map[string]any

// Derivation computes one template variable from an Env.
type Derivation func(env Env) (string, error)

// Definitions maps template variable names to their derivations.
type Definitions map[string]Derivation

var placeholder = regexp.MustCompile(`\$(?:(\$)|([_a-zA-Z][_a-zA-Z0-9]*)|\{([_a-zA-Z][_a-zA-Z0-9]*)\})`)

// Substitute replaces $name and ${name} with values from vars and $$ with a
// single $. Names missing from vars are left unchanged.
func Substitute(template string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name, escaped := identifier(m)
		if escaped {
			return "$"
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// Identifiers lists the distinct variable names used in template, in order of
// first appearance.
func Identifiers(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllString(template, -1) {
		name, escaped := identifier(m)
		if escaped || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func identifier(match string) (string, bool) {
	sub := placeholder.FindStringSubmatch(match)
	switch {
	case sub[1] != "":
		return "", true
	case sub[2] != "":
		return sub[2], false
	default:
		return sub[3], false
	}
}

// Render resolves every template variable that has a derivation in defs and
// substitutes the results.
func Render(template string, defs Definitions, env Env) string {
	vars := make(map[string]string)
	for _, name := range Identifiers(template) {
		derive, ok := defs[name]
		if !ok {
			continue
		}
		v, err := derive(env)
		if err != nil {
			continue
		}
		vars[name] = v
	}
	return Substitute(template, vars)
}

// Text formats a base value for a prompt. Strings are used as is, lists are
// rendered as JSON and everything else through fmt.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case []any, []string, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// List interprets v as a list. A string holding a JSON array is decoded; any
// other scalar becomes a one-element list.
func List(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case string:
		if parsed, ok := Literal(t).([]any); ok {
			return parsed
		}
		return []any{t}
	}
	return []any{v}
}

// Literal parses s as strict JSON. When s is not valid JSON it is returned
// unchanged.
func Literal(s string) any {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err != nil {
		return s
	}
	return v
}

var (
	parenthesized = regexp.MustCompile(`\([^)]*\)`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// CleanParentheses removes parenthesized text and collapses whitespace.
func CleanParentheses(s string) string {
	s = parenthesized.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// FormatBullets zips concept names, names and values into " - cn: n (context: v)"
// lines. Extra elements of the longer lists are ignored.
func FormatBullets(cn, n, v []any) string {
	count := min(len(cn), len(n), len(v))
	lines := make([]string, count)
	for i := range count {
		lines[i] = fmt.Sprintf(" - %s: %s (context: %s)", Text(cn[i]), Text(n[i]), Text(v[i]))
	}
	return strings.Join(lines, "\n")
}

// ReplacePlaceholders substitutes {1}, {2}, ... with values in order and then
// turns underscores into spaces. Without values the template is unchanged.
func ReplacePlaceholders(template string, values []any) string {
	if len(values) == 0 {
		return template
	}
	for i, v := range values {
		template = strings.ReplaceAll(template, fmt.Sprintf("{%d}", i+1), Text(v))
	}
	return strings.ReplaceAll(template, "_", " ")
}
