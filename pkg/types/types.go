// Package types defines the core data structures of the conversational memory
// layer: memory records, the per-entity store document that is persisted and
// exported, and the error taxonomy shared by every package.
package types

import "strings"

// Role identifies who authored the chat turn a memory was derived from.
type Role string

// Role constants
const (
	// RoleUser marks a turn written by the human user.
	RoleUser Role = "user"

	// RoleAssistant marks a turn written by the character/persona.
	RoleAssistant Role = "assistant"

	// RoleUnknown is used when the author cannot be determined.
	RoleUnknown Role = "unknown"
)

// ParseRole maps free-form role strings onto the Role enum.
// Anything unrecognised becomes RoleUnknown.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "human":
		return RoleUser
	case "assistant", "bot", "char", "character":
		return RoleAssistant
	default:
		return RoleUnknown
	}
}

// Label returns the display label used in prompts and injection text.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return "Unknown"
	}
}

// Known reports whether the role is user or assistant.
func (r Role) Known() bool {
	return r == RoleUser || r == RoleAssistant
}
