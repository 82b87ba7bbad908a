package models

// Chat is a named conversation thread with its own message history and model
// selection. The ID is carried as the map key in the persisted document, so it
// is excluded from the record body.
type Chat struct {
	ID       string    `json:"-"`
	Name     string    `json:"name"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// ChatMap is the full chat mapping persisted as one document:
// { [chatId]: {name, messages, model} }.
type ChatMap map[string]*Chat

// Clone returns a deep copy so callers can render without holding repository
// locks.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	dup := &Chat{ID: c.ID, Name: c.Name, Model: c.Model}
	if len(c.Messages) > 0 {
		dup.Messages = make([]Message, len(c.Messages))
		copy(dup.Messages, c.Messages)
	}
	return dup
}

// LastMessage returns a pointer to the newest message, or nil for an empty
// history.
func (c *Chat) LastMessage() *Message {
	if c == nil || len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}
