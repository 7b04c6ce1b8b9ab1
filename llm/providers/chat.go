package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/semplan/llm"
)

// chatCompletions encodes the OpenAI chat completions wire format. Providers
// that speak it embed chatCompletions and add their own URL and headers.
type chatCompletions struct{}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type completionChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type completionResponse struct {
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

var errNoChoices = errors.New("completion has no choices")

// BuildRequestBody implements llm.Provider.
func (chatCompletions) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	body := completionRequest{Model: model, Messages: messages, Temperature: temperature}
	if maxTokens > 0 {
		body.MaxTokens = &maxTokens
	}
	return json.Marshal(body)
}

// ParseResponse implements llm.Provider. Only the first choice is read.
func (chatCompletions) ParseResponse(body []byte, _ string) (*llm.Response, error) {
	var cr completionResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, errNoChoices
	}
	first := cr.Choices[0]
	return &llm.Response{
		Content:      first.Message.Content,
		Model:        cr.Model,
		FinishReason: first.FinishReason,
		Usage: llm.TokenUsage{
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
			TotalTokens:      cr.Usage.TotalTokens,
		},
	}, nil
}

// completionsURL appends /chat/completions to base, or to def when base is
// empty. A base that already ends in the path is kept.
func completionsURL(base, def string) string {
	u := strings.TrimRight(base, "/")
	if u == "" {
		u = strings.TrimRight(def, "/")
	}
	const path = "/chat/completions"
	if !strings.HasSuffix(u, path) {
		u += path
	}
	return u
}

// bearerFromEnv sets an Authorization header from the named variable.
func bearerFromEnv(req *http.Request, name string) {
	key := os.Getenv(name)
	if key == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+key)
}
