package providers

import (
	"net/http"

	"github.com/c360studio/semplan/llm"
)

const ollamaDefaultURL = "http://localhost:11434/v1"

// OllamaProvider targets local OpenAI-compatible servers such as Ollama and
// vLLM.
type OllamaProvider struct {
	chatCompletions
}

func init() {
	llm.RegisterProvider(&OllamaProvider{})
}

// Name implements llm.Provider.
func (*OllamaProvider) Name() string { return "ollama" }

// BuildURL implements llm.Provider.
func (*OllamaProvider) BuildURL(baseURL string) string {
	return completionsURL(baseURL, ollamaDefaultURL)
}

// SetHeaders sends OPENAI_API_KEY for servers started with an API key.
func (*OllamaProvider) SetHeaders(req *http.Request) {
	bearerFromEnv(req, "OPENAI_API_KEY")
}
