package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/semplan/concept"
	"github.com/c360studio/semplan/prompt"
	"github.com/c360studio/semplan/reference"
)

// InputMode selects how a raw input value becomes an explanation and a
// summary key.
type InputMode string

const (
	// ModeDirect expects a JSON object (or a list holding one) with
	// Explanation and Summary_Key.
	ModeDirect InputMode = "raw_direct_explanation"

	// ModeEmpty uses the value as key and an empty explanation.
	ModeEmpty InputMode = "raw_empty_explanation"

	// ModeReplicate uses the value as both key and explanation. It is the
	// default.
	ModeReplicate InputMode = "raw_replicate_explanation"

	// ModeTemplate renders the explanation from a template.
	ModeTemplate InputMode = "raw_template_explanation"

	// ModeAgent asks the agent's oracle to explain the value.
	ModeAgent InputMode = "raw_agent_explanation"
)

// ParseInputMode converts a string to an InputMode. The empty string is
// ModeReplicate.
func ParseInputMode(s string) (InputMode, error) {
	switch m := InputMode(s); m {
	case "":
		return ModeReplicate, nil
	case ModeDirect, ModeEmpty, ModeReplicate, ModeTemplate, ModeAgent:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown input mode %q", ErrInvalidInput, s)
}

// Remember is the memory bullet format written into input references.
type Remember string

const (
	// RememberJSONBullet stores {"Explanation": ..., "Summary_Key": ...}.
	RememberJSONBullet Remember = "json_bullet"

	// RememberBullet stores "[explanation : key]".
	RememberBullet Remember = "bullet"
)

// ParseRemember converts a string to a Remember format. The empty string is
// RememberJSONBullet.
func ParseRemember(s string) (Remember, error) {
	switch r := Remember(s); r {
	case "":
		return RememberJSONBullet, nil
	case RememberJSONBullet, RememberBullet:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown bullet format %q", ErrInvalidInput, s)
}

// Bullet formats an explanation and its summary key. An empty key falls back
// to the explanation; both empty is an error.
func (r Remember) Bullet(explanation, key string) (string, error) {
	if explanation == "" && key == "" {
		return "", fmt.Errorf("%w: empty explanation and summary key", ErrInvalidInput)
	}
	if key == "" {
		key = explanation
	}
	if r == RememberBullet {
		return "[" + explanation + " : " + key + "]", nil
	}
	raw, err := json.Marshal(struct {
		Explanation string `json:"Explanation"`
		SummaryKey  string `json:"Summary_Key"`
	}{explanation, key})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// InputConfig tunes input binding.
type InputConfig struct {
	// Template is used by ModeTemplate and ModeAgent for inputs without an
	// entry in Templates.
	Template  string
	Templates map[string]string

	Remember Remember
}

func (cfg InputConfig) template(name string, mode InputMode) string {
	if t, ok := cfg.Templates[name]; ok {
		return t
	}
	if cfg.Template != "" {
		return cfg.Template
	}
	if mode == ModeAgent {
		return prompt.AgentExplanationTemplate
	}
	return "$input_value"
}

// bind turns one raw input into the concept's reference and actuates it. A
// *reference.Reference value is bound as is.
func bind(ctx context.Context, agent Agent, c *concept.Concept, value any, mode InputMode, cfg InputConfig) (*concept.Concept, error) {
	if ref, ok := value.(*reference.Reference); ok {
		return c.WithReference(ref), nil
	}

	explanation, key, err := explain(ctx, agent, c, value, mode, cfg)
	if err != nil {
		return nil, err
	}
	bullet, err := cfg.Remember.Bullet(explanation, key)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", c.Name, err)
	}
	ref, err := reference.FromNested([]string{c.Name}, []any{bullet})
	if err != nil {
		return nil, err
	}

	actuated, err := agent.Actuate(ctx, c.WithReference(ref))
	if err != nil {
		return nil, fmt.Errorf("actuate input %s: %w", c.Name, err)
	}
	if actuated == nil {
		actuated = ref
	}
	return c.WithReference(actuated), nil
}

func explain(ctx context.Context, agent Agent, c *concept.Concept, value any, mode InputMode, cfg InputConfig) (explanation, key string, err error) {
	text := prompt.Text(value)

	switch mode {
	case ModeDirect:
		return direct(c.Name, value)
	case ModeEmpty:
		return "", text, nil
	case ModeReplicate, "":
		return text, text, nil
	case ModeTemplate:
		return prompt.Render(cfg.template(c.Name, mode), prompt.InputDefinitions(), inputEnv(c, text)), text, nil
	case ModeAgent:
		q := prompt.Render(cfg.template(c.Name, mode), prompt.InputDefinitions(), inputEnv(c, text))
		reply, err := agent.Explain(ctx, q)
		if err != nil {
			return "", "", fmt.Errorf("explain input %s: %w", c.Name, err)
		}
		reply = strings.ReplaceAll(reply, "\n", " ")
		reply = strings.ReplaceAll(reply, `"`, "'")
		return reply, text, nil
	}
	return "", "", fmt.Errorf("%w: unknown input mode %q", ErrInvalidInput, mode)
}

func inputEnv(c *concept.Concept, text string) prompt.Env {
	return prompt.Env{
		prompt.InputValue:     text,
		prompt.ConceptName:    c.Name,
		prompt.ConceptContext: c.Context,
		prompt.ConceptType:    c.Type.String(),
	}
}

func direct(name string, value any) (explanation, key string, err error) {
	if s, ok := value.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return "", "", fmt.Errorf("%w: input %s is not JSON: %v", ErrInvalidInput, name, err)
		}
		value = parsed
	}
	if list, ok := value.([]any); ok {
		if len(list) == 0 {
			return "", "", fmt.Errorf("%w: input %s is an empty list", ErrInvalidInput, name)
		}
		value = list[0]
	}

	var obj map[string]any
	switch v := value.(type) {
	case map[string]any:
		obj = v
	case map[string]string:
		obj = make(map[string]any, len(v))
		for k, s := range v {
			obj[k] = s
		}
	default:
		return "", "", fmt.Errorf("%w: input %s must be an object, got %T", ErrInvalidInput, name, value)
	}

	e, ok := obj["Explanation"]
	if !ok {
		return "", "", fmt.Errorf("%w: input %s has no Explanation", ErrInvalidInput, name)
	}
	k, ok := obj["Summary_Key"]
	if !ok {
		return "", "", fmt.Errorf("%w: input %s has no Summary_Key", ErrInvalidInput, name)
	}
	return prompt.Text(e), prompt.Text(k), nil
}
