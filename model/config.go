package model

import "fmt"

// RegistryConfig is the serialized form of a Registry. It is embedded in the
// "oracle" section of the semplan configuration file.
type RegistryConfig struct {
	Roles     map[string]*RoleConfig     `json:"roles" yaml:"roles"`
	Endpoints map[string]*EndpointConfig `json:"endpoints" yaml:"endpoints"`
	Defaults  *DefaultsConfig            `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// Validate checks that every role is known and refers to configured endpoints.
func (c *RegistryConfig) Validate() error {
	for name, rc := range c.Roles {
		if ParseRole(name) == "" {
			return fmt.Errorf("unknown oracle role %q", name)
		}
		if rc == nil {
			continue
		}
		for _, ep := range append(append([]string{}, rc.Preferred...), rc.Fallback...) {
			if _, ok := c.Endpoints[ep]; !ok {
				return fmt.Errorf("role %q refers to unknown endpoint %q", name, ep)
			}
		}
	}
	for name, ep := range c.Endpoints {
		if ep == nil || ep.Provider == "" {
			return fmt.Errorf("endpoint %q has no provider", name)
		}
	}
	return nil
}

// FromConfig builds a Registry. Legacy role names are normalized.
func FromConfig(cfg *RegistryConfig) *Registry {
	r := NewRegistry(nil, nil)
	if cfg == nil {
		return r
	}
	r.MergeFromConfig(cfg)
	return r
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make(map[string]*RoleConfig, len(r.roles))
	for k, v := range r.roles {
		roles[string(k)] = v
	}
	endpoints := make(map[string]*EndpointConfig, len(r.endpoints))
	for k, v := range r.endpoints {
		endpoints[k] = v
	}
	return &RegistryConfig{
		Roles:     roles,
		Endpoints: endpoints,
		Defaults:  r.defaults,
	}
}

// MergeFromConfig merges configuration into an existing registry.
// Existing entries are overwritten by the new config.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range cfg.Roles {
		role := ParseRole(k)
		if role == "" {
			role = Role(k)
		}
		r.roles[role] = v
	}
	for k, v := range cfg.Endpoints {
		r.endpoints[k] = v
	}
	if cfg.Defaults != nil {
		r.defaults = cfg.Defaults
	}
}
