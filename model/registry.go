package model

import (
	"encoding/json"
	"slices"
	"sync"
)

// Registry maps roles to preferred endpoints with fallback chains and tracks
// endpoint health.
type Registry struct {
	mu        sync.RWMutex
	roles     map[Role]*RoleConfig
	endpoints map[string]*EndpointConfig
	defaults  *DefaultsConfig
	health    *healthState
}

// RoleConfig defines endpoint preferences for a role.
type RoleConfig struct {
	// Description explains what this role is for.
	Description string `json:"description" yaml:"description"`

	// Preferred lists endpoints in order of preference.
	Preferred []string `json:"preferred" yaml:"preferred"`

	// Fallback lists backup endpoints if all preferred fail.
	Fallback []string `json:"fallback" yaml:"fallback"`
}

// EndpointConfig defines an available oracle endpoint.
type EndpointConfig struct {
	// Provider is the API flavour (anthropic, ollama, openai).
	Provider string `json:"provider" yaml:"provider"`

	// URL is the API base URL. Empty uses the provider default.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the model identifier sent to the provider.
	Model string `json:"model" yaml:"model"`

	// MaxTokens limits completion length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// DefaultsConfig holds default endpoint settings.
type DefaultsConfig struct {
	// Model is the endpoint used when no role matches.
	Model string `json:"model" yaml:"model"`
}

// NewRegistry creates a registry with the given roles and endpoints.
func NewRegistry(roles map[Role]*RoleConfig, endpoints map[string]*EndpointConfig) *Registry {
	if roles == nil {
		roles = make(map[Role]*RoleConfig)
	}
	if endpoints == nil {
		endpoints = make(map[string]*EndpointConfig)
	}
	return &Registry{
		roles:     roles,
		endpoints: endpoints,
		defaults:  &DefaultsConfig{Model: "default"},
	}
}

// NewDefaultRegistry creates a registry that sends every role to a local
// Ollama model.
func NewDefaultRegistry() *Registry {
	return &Registry{
		roles: map[Role]*RoleConfig{
			RoleExplain: {
				Description: "Free text explanations of inputs and constants",
				Preferred:   []string{"qwen"},
				Fallback:    []string{"llama3.2"},
			},
			RoleBullet: {
				Description: "Single JSON bullet judgements",
				Preferred:   []string{"qwen"},
				Fallback:    []string{"llama3.2"},
			},
			RoleStructured: {
				Description: "JSON lists of bullets for classification",
				Preferred:   []string{"qwen"},
				Fallback:    []string{"llama3.2"},
			},
		},
		endpoints: map[string]*EndpointConfig{
			"qwen": {
				Provider:  "ollama",
				URL:       "http://localhost:11434/v1",
				Model:     "qwen2.5:14b",
				MaxTokens: 4096,
			},
			"llama3.2": {
				Provider:  "ollama",
				URL:       "http://localhost:11434/v1",
				Model:     "llama3.2",
				MaxTokens: 4096,
			},
		},
		defaults: &DefaultsConfig{
			Model: "qwen",
		},
	}
}

// Resolve returns the preferred endpoint for a role.
func (r *Registry) Resolve(role Role) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.roles[role]; ok && len(cfg.Preferred) > 0 {
		return cfg.Preferred[0]
	}
	return r.defaults.Model
}

// GetFallbackChain returns all endpoints for a role in order of preference.
func (r *Registry) GetFallbackChain(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.roles[role]; ok {
		chain := make([]string, 0, len(cfg.Preferred)+len(cfg.Fallback))
		chain = append(chain, cfg.Preferred...)
		chain = append(chain, cfg.Fallback...)
		return chain
	}
	return []string{r.defaults.Model}
}

// GetEndpoint returns the endpoint configuration for a name, or nil.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.endpoints[name]
}

// SetRole updates or adds a role configuration.
func (r *Registry) SetRole(role Role, cfg *RoleConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.roles[role] = cfg
}

// SetEndpoint updates or adds an endpoint configuration.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endpoints[name] = cfg
}

// SetDefault sets the default endpoint.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defaults = &DefaultsConfig{Model: name}
}

// ListRoles returns all configured roles, sorted.
func (r *Registry) ListRoles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]Role, 0, len(r.roles))
	for role := range r.roles {
		roles = append(roles, role)
	}
	slices.Sort(roles)
	return roles
}

// ListEndpoints returns all configured endpoint names, sorted.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// MarshalJSON implements json.Marshaler for the registry.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToConfig())
}
