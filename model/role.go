// Package model provides role-based oracle endpoint selection.
// Agents ask for a role (free explanation, single bullet, structured list)
// instead of a model name, and the registry resolves the role to configured
// endpoints with a fallback chain.
package model

// Role is the kind of answer an oracle call expects.
type Role string

const (
	// RoleExplain returns free text, used for input explanations.
	RoleExplain Role = "llm"

	// RoleBullet returns one JSON object with Explanation and Summary_Key.
	RoleBullet Role = "bullet"

	// RoleStructured returns a JSON array of such objects.
	RoleStructured Role = "structured"
)

// Roles returns every known role.
func Roles() []Role {
	return []Role{RoleExplain, RoleBullet, RoleStructured}
}

// IsValid checks if a role string is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleExplain, RoleBullet, RoleStructured:
		return true
	}
	return false
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// ParseRole converts a string to a Role, returning empty for invalid values.
// The legacy names "bullet_llm" and "structured_llm" are accepted.
func ParseRole(s string) Role {
	switch s {
	case "bullet_llm":
		return RoleBullet
	case "structured_llm":
		return RoleStructured
	}
	if r := Role(s); r.IsValid() {
		return r
	}
	return ""
}
