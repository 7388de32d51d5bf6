package prompt

import "strings"

// Message is a role/content pair as sent by clients.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestRole maps a client-supplied role. Unlike ParseRole it never fails:
// anything other than system or assistant is treated as user.
func RequestRole(s string) Role {
	switch r := ParseRole(s); r {
	case RoleSystem, RoleAssistant:
		return r
	default:
		return RoleUser
	}
}

// FromMessages builds a conversation from a client request. A non-blank
// system prompt becomes the leading system turn.
func FromMessages(system string, msgs []Message) Conversation {
	conv := make(Conversation, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		conv = append(conv, Turn{Role: RoleSystem, Content: system})
	}
	for _, m := range msgs {
		conv = append(conv, Turn{Role: RequestRole(m.Role), Content: m.Content})
	}
	return conv
}
