package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/semplan/model"
)

// Default system prompts per role.
const (
	ExplainSystemPrompt = "You are a linguistic analysis system. Answer in a few plain sentences."

	BulletSystemPrompt = "You are a linguistic analysis system. Answer with exactly one JSON object " +
		`with the keys "Explanation" and "Summary_Key". Do not add any other text.`

	StructuredSystemPrompt = "You are a linguistic analysis system. Answer with a JSON array of objects, " +
		`each with the keys "Explanation" and "Summary_Key". Do not add any other text.`
)

// SystemPrompt returns the default system prompt for a role.
func SystemPrompt(role model.Role) string {
	switch role {
	case model.RoleBullet:
		return BulletSystemPrompt
	case model.RoleStructured:
		return StructuredSystemPrompt
	default:
		return ExplainSystemPrompt
	}
}

// Oracle answers one prompt for a fixed role. Bullet and structured replies
// are trimmed to their JSON payload; explanations are returned as text.
type Oracle struct {
	client      Completer
	role        model.Role
	system      string
	temperature *float64
	maxTokens   int
}

// OracleOption configures an Oracle.
type OracleOption func(*Oracle)

// WithSystemPrompt replaces the role's default system prompt. An empty prompt
// sends no system message.
func WithSystemPrompt(s string) OracleOption {
	return func(o *Oracle) {
		o.system = s
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) OracleOption {
	return func(o *Oracle) {
		o.temperature = &t
	}
}

// WithMaxTokens limits the reply length.
func WithMaxTokens(n int) OracleOption {
	return func(o *Oracle) {
		o.maxTokens = n
	}
}

// NewOracle binds client to role.
func NewOracle(client Completer, role model.Role, opts ...OracleOption) *Oracle {
	o := &Oracle{
		client: client,
		role:   role,
		system: SystemPrompt(role),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Role returns the role the oracle was bound to.
func (o *Oracle) Role() model.Role {
	return o.role
}

// Invoke sends prompt and returns the reply.
func (o *Oracle) Invoke(ctx context.Context, prompt string) (string, error) {
	msgs := make([]Message, 0, 2)
	if o.system != "" {
		msgs = append(msgs, Message{Role: "system", Content: o.system})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})

	resp, err := o.client.Complete(ctx, Request{
		Role:        o.role,
		Messages:    msgs,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("oracle %s: %w", o.role, err)
	}
	return o.payload(resp.Content), nil
}

func (o *Oracle) payload(content string) string {
	content = strings.TrimSpace(content)
	switch o.role {
	case model.RoleBullet:
		if raw := ExtractJSON(content); raw != "" {
			return raw
		}
	case model.RoleStructured:
		if raw := ExtractJSONArray(content); raw != "" && firstJSONByte(content) == '[' {
			return raw
		}
		if raw := ExtractJSON(content); raw != "" {
			return raw
		}
	}
	return content
}
