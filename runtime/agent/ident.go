// Package agent provides strong type identifiers for agents.
package agent

// Ident is the strong type for agent identifiers (e.g., "support.triage").
// Use this type when referencing agents in maps or APIs to avoid accidental
// mixing with free-form strings.
type Ident string

// String returns the identifier as a plain string.
func (i Ident) String() string { return string(i) }
