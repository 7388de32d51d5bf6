// Package prompt turns conversations into model-ready prompt text using
// the Gemma turn template.
package prompt

import "strings"

// Role is the author of a Turn. Unrecognized roles parse to RoleUnknown and
// are dropped by BuildChat.
type Role int

const (
	RoleUnknown Role = iota
	RoleSystem
	RoleUser
	RoleAssistant
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// ParseRole matches system, user and assistant ignoring case and
// surrounding space.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return RoleSystem
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	default:
		return RoleUnknown
	}
}

type Turn struct {
	Role    Role
	Content string
}

type Conversation []Turn

const (
	TurnStart = "<start_of_turn>"
	TurnEnd   = "<end_of_turn>"

	// modelRole is the template's name for the assistant.
	modelRole = "model"
)

// BuildChat renders conv. Only the first system turn is used, and only if
// it has non-whitespace content. User and assistant turns follow in order.
// The result always ends with an open model turn.
func BuildChat(conv Conversation) string {
	var b strings.Builder

	for _, t := range conv {
		if t.Role != RoleSystem {
			continue
		}
		if strings.TrimSpace(t.Content) != "" {
			writeTurn(&b, "system", t.Content)
		}
		break
	}

	for _, t := range conv {
		switch t.Role {
		case RoleUser:
			writeTurn(&b, "user", t.Content)
		case RoleAssistant:
			writeTurn(&b, modelRole, t.Content)
		}
	}

	b.WriteString(TurnStart)
	b.WriteString(modelRole)
	b.WriteByte('\n')
	return b.String()
}

// BuildText returns raw unchanged; raw completions are not templated.
func BuildText(raw string) string {
	return raw
}

func writeTurn(b *strings.Builder, role, content string) {
	b.WriteString(TurnStart)
	b.WriteString(role)
	b.WriteByte('\n')
	b.WriteString(content)
	b.WriteByte('\n')
	b.WriteString(TurnEnd)
	b.WriteByte('\n')
}
