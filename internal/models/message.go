package models

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Slice position within a chat is the
// canonical conversation order; it is the only order rendered or transmitted.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
	// CreatedType tags messages produced outside the plain text flow,
	// e.g. "image" for image-generation results. Empty for normal turns.
	CreatedType string `json:"createdType,omitempty"`
}
