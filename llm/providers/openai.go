package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/semplan/llm"
)

const openAIDefaultURL = "https://api.openai.com/v1"

// OpenAIProvider targets OpenAI or OpenRouter.
type OpenAIProvider struct {
	chatCompletions
}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

// Name implements llm.Provider.
func (*OpenAIProvider) Name() string { return "openai" }

// BuildURL implements llm.Provider.
func (*OpenAIProvider) BuildURL(baseURL string) string {
	return completionsURL(baseURL, openAIDefaultURL)
}

// SetHeaders adds the API key and the optional OpenRouter attribution headers.
func (*OpenAIProvider) SetHeaders(req *http.Request) {
	bearerFromEnv(req, "OPENAI_API_KEY")
	for header, env := range map[string]string{
		"HTTP-Referer": "OPENROUTER_SITE_URL",
		"X-Title":      "OPENROUTER_SITE_NAME",
	} {
		if v := os.Getenv(env); v != "" {
			req.Header.Set(header, v)
		}
	}
}
