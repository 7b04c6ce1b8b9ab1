package llm

import (
	"net/http"
	"slices"
	"sync"
)

// Provider adapts one HTTP API flavour.
type Provider interface {
	// Name is the value used in endpoint configuration.
	Name() string

	// BuildURL returns the completion URL for a base URL, which may be empty.
	BuildURL(baseURL string) string

	// SetHeaders adds authentication and version headers.
	SetHeaders(req *http.Request)

	// BuildRequestBody encodes a request. A nil temperature leaves the provider
	// default; maxTokens of 0 omits the limit where the API allows it.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse decodes a 200 reply.
	ParseResponse(body []byte, model string) (*Response, error)
}

var (
	providers   = make(map[string]Provider)
	providersMu sync.RWMutex
)

// RegisterProvider makes p available under p.Name().
func RegisterProvider(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[p.Name()] = p
}

// GetProvider returns the provider registered under name, or nil.
func GetProvider(name string) Provider {
	providersMu.RLock()
	defer providersMu.RUnlock()
	return providers[name]
}

// ListProviders returns the registered provider names, sorted.
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
