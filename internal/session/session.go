// Package session binds each identity to its conversation state and
// serializes work on it: every identity gets a FIFO queue drained by an
// elastic worker pool, so two queries can never interleave writes into the
// same chat's message list.
package session

import (
	"personalchat/internal/chat"
	"personalchat/internal/models"
)

// Session is one identity's conversation state: the repository holding its
// chats and the controller running its queries.
type Session struct {
	Identity *models.Identity
	Repo     *chat.Repository
	Ctrl     *chat.Controller

	key string
}

// Key returns the dispatcher queue key for this session.
func (s *Session) Key() string {
	return s.key
}
