package chat

import (
	"fmt"
	"strings"

	"personalchat/internal/models"
)

// BuildContext derives the linear prompt context sent to the inference
// backend: the trailing window of history rendered as "User:"/"Assistant:"
// lines, then the new user message, then a bare "Assistant:" marker for the
// model to continue from.
//
// User turns identical to the previously rendered user turn are skipped, and
// a new message that duplicates the last rendered user line is not repeated.
// The history has its own suppression on append; this guard is independent of
// it so already-persisted duplicates cannot leak into the prompt. Pure
// function, no side effects.
func BuildContext(chat *models.Chat, newMessage string) string {
	var (
		lines    []string
		lastUser string
	)
	if chat != nil {
		window := chat.Messages
		if len(window) > ContextWindow {
			window = window[len(window)-ContextWindow:]
		}
		for _, msg := range window {
			if msg.Role == models.RoleUser {
				if msg.Text == lastUser {
					continue
				}
				lastUser = msg.Text
				lines = append(lines, fmt.Sprintf("User: %s", msg.Text))
				continue
			}
			lines = append(lines, fmt.Sprintf("Assistant: %s", msg.Text))
		}
	}
	if newMessage != lastUser {
		lines = append(lines, fmt.Sprintf("User: %s", newMessage))
	}
	lines = append(lines, "Assistant:")
	return strings.Join(lines, "\n")
}
