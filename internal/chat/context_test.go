package chat

import (
	"fmt"
	"strings"
	"testing"

	"personalchat/internal/models"
)

func TestBuildContextRendersTrailingWindow(t *testing.T) {
	chat := &models.Chat{
		ID:   "chat_1",
		Name: "Default Chat",
		Messages: []models.Message{
			{Role: models.RoleUser, Text: "hi"},
			{Role: models.RoleAssistant, Text: "hello"},
		},
	}
	got := BuildContext(chat, "how are you")
	want := "User: hi\nAssistant: hello\nUser: how are you\nAssistant:"
	if got != want {
		t.Fatalf("context mismatch:\nwant %q\ngot  %q", want, got)
	}
}

func TestBuildContextEmptyChat(t *testing.T) {
	got := BuildContext(&models.Chat{}, "first question")
	want := "User: first question\nAssistant:"
	if got != want {
		t.Fatalf("context mismatch: %q", got)
	}
}

func TestBuildContextNilChat(t *testing.T) {
	got := BuildContext(nil, "hello")
	if got != "User: hello\nAssistant:" {
		t.Fatalf("context mismatch: %q", got)
	}
}

func TestBuildContextSkipsRepeatedUserTurns(t *testing.T) {
	chat := &models.Chat{
		Messages: []models.Message{
			{Role: models.RoleUser, Text: "same"},
			{Role: models.RoleUser, Text: "same"},
			{Role: models.RoleAssistant, Text: "answer"},
		},
	}
	got := BuildContext(chat, "next")
	want := "User: same\nAssistant: answer\nUser: next\nAssistant:"
	if got != want {
		t.Fatalf("duplicate user turn leaked:\n%q", got)
	}
}

func TestBuildContextNewMessageNotRepeated(t *testing.T) {
	chat := &models.Chat{
		Messages: []models.Message{
			{Role: models.RoleUser, Text: "ping"},
		},
	}
	// The new message already sits at the tail of history, so it must not be
	// rendered twice.
	got := BuildContext(chat, "ping")
	want := "User: ping\nAssistant:"
	if got != want {
		t.Fatalf("new message repeated:\n%q", got)
	}
}

func TestBuildContextWindowBound(t *testing.T) {
	chat := &models.Chat{}
	for i := 0; i < 30; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		chat.Messages = append(chat.Messages, models.Message{Role: role, Text: text(i)})
	}
	got := BuildContext(chat, "latest")
	if strings.Contains(got, text(9)) {
		t.Fatalf("message outside window rendered: %q", got)
	}
	if !strings.Contains(got, text(10)) {
		t.Fatalf("oldest in-window message missing: %q", got)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != ContextWindow+2 {
		t.Fatalf("expected %d lines, got %d", ContextWindow+2, len(lines))
	}
}

func text(i int) string {
	return fmt.Sprintf("msg-%d", i)
}
