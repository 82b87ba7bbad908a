package chat

import "personalchat/internal/models"

const (
	// MaxMessages caps a chat's history; insertion beyond the cap evicts the
	// oldest entry, never the newest.
	MaxMessages = 50
	// ContextWindow bounds the trailing slice of history sent to the
	// inference backend.
	ContextWindow = 20
)

// isDuplicateUser is the single duplicate-suppression rule shared by the
// repository append path, the context builder, and the load-time cleanup
// pass: two consecutive user turns with identical text count as one.
func isDuplicateUser(prev *models.Message, role models.Role, text string) bool {
	if role != models.RoleUser || prev == nil {
		return false
	}
	return prev.Role == models.RoleUser && prev.Text == text
}

// dedupAdjacent rewrites a history with consecutive duplicate user turns
// collapsed. Used when adopting persisted data that may predate suppression.
func dedupAdjacent(msgs []models.Message) []models.Message {
	if len(msgs) < 2 {
		return msgs
	}
	out := msgs[:1]
	for i := 1; i < len(msgs); i++ {
		prev := &out[len(out)-1]
		if isDuplicateUser(prev, msgs[i].Role, msgs[i].Text) {
			continue
		}
		out = append(out, msgs[i])
	}
	return out
}

// trimToCap drops the oldest entries until the history fits the cap.
func trimToCap(msgs []models.Message) []models.Message {
	if len(msgs) <= MaxMessages {
		return msgs
	}
	return msgs[len(msgs)-MaxMessages:]
}
