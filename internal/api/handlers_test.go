package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"personalchat/internal/auth"
	"personalchat/internal/chat"
	"personalchat/internal/config"
	"personalchat/internal/session"
	"personalchat/internal/storage"
)

// scriptedChatter streams a fixed reply in two chunks.
type scriptedChatter struct {
	reply string
	fail  bool
}

func (s *scriptedChatter) StreamChat(ctx context.Context, contextText, model string, onChunk func(string) error) (string, error) {
	if s.fail {
		return "", fmt.Errorf("mock failure")
	}
	half := len(s.reply) / 2
	for _, chunk := range []string{s.reply[:half], s.reply[half:]} {
		if err := onChunk(chunk); err != nil {
			return "", err
		}
	}
	return s.reply, nil
}

type scriptedImages struct {
	ref string
}

func (s *scriptedImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return s.ref, nil
}

func newTestServer(t *testing.T, chatter chat.Chatter) (*gin.Engine, *sql.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {
				DSN: ":memory:",
			},
		},
	}
	cfg.BasicConfig.DefaultModel = "deepseek-chat"
	cfg.BasicConfig.DefaultChatName = "Default Chat"

	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	notifier := auth.NewNotifier(nil)
	authSvc := auth.NewService(db, notifier, time.Hour)
	manager := session.NewManager(db, nil, cfg, chatter, &scriptedImages{ref: "data:image/png;base64,aW1n"}, notifier, session.DispatcherConfig{
		MinWorkers: 1,
		MaxWorkers: 2,
		QueueSize:  8,
	})
	handler := NewHandler(authSvc, manager)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db
}

func TestGuestConversationFlow(t *testing.T) {
	router, db := newTestServer(t, &scriptedChatter{reply: "hello there"})
	defer db.Close()

	// A guest starts with one synthesized chat.
	listResp := doJSONRequest(t, router, http.MethodGet, "/api/chats", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Chats []struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"chats"`
		CurrentChatID string `json:"current_chat_id"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Chats) != 1 || listBody.Chats[0].Name != "Default Chat" {
		t.Fatalf("unexpected initial chats: %+v", listBody)
	}
	if listBody.CurrentChatID != listBody.Chats[0].ID {
		t.Fatalf("default chat not current")
	}
	chatID := listBody.CurrentChatID

	// Send a message over SSE.
	msgResp := doJSONRequest(t, router, http.MethodPost, "/api/conversation/msg",
		map[string]string{"content": "hi"}, nil)
	assertStatus(t, msgResp, http.StatusOK)
	events := parseSSE(t, msgResp.Body.String())
	if len(events) != 5 {
		t.Fatalf("expected 5 SSE events, got %d: %#v", len(events), events)
	}
	wantNames := []string{"status", "ack", "stream", "stream", "done"}
	for i, want := range wantNames {
		if events[i].Name != want {
			t.Fatalf("event %d: want %s got %s", i, want, events[i].Name)
		}
	}
	var ackPayload struct {
		ChatID  string `json:"chat_id"`
		Message struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"message"`
	}
	decodeJSON(t, []byte(events[1].Data), &ackPayload)
	if ackPayload.ChatID != chatID || ackPayload.Message.Text != "hi" {
		t.Fatalf("ack payload mismatch: %+v", ackPayload)
	}

	// History now holds the user turn and the streamed reply.
	histResp := doJSONRequest(t, router, http.MethodGet, "/api/chats/"+chatID+"/messages", nil, nil)
	assertStatus(t, histResp, http.StatusOK)
	var histBody struct {
		Messages []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	decodeJSON(t, histResp.Body.Bytes(), &histBody)
	if len(histBody.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %+v", histBody.Messages)
	}
	if histBody.Messages[1].Text != "hello there" {
		t.Fatalf("streamed reply not accumulated: %+v", histBody.Messages[1])
	}
}

func TestGuestHistorySurvivesRestart(t *testing.T) {
	chatter := &scriptedChatter{reply: "persisted"}
	router, db := newTestServer(t, chatter)
	defer db.Close()

	msgResp := doJSONRequest(t, router, http.MethodPost, "/api/conversation/msg",
		map[string]string{"content": "remember me"}, nil)
	assertStatus(t, msgResp, http.StatusOK)

	// Second manager over the same database simulates a restart.
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	notifier := auth.NewNotifier(nil)
	authSvc := auth.NewService(db, notifier, time.Hour)
	manager := session.NewManager(db, nil, cfg, chatter, nil, notifier, session.DispatcherConfig{})
	router2 := gin.New()
	NewHandler(authSvc, manager).RegisterRoutes(router2)

	listResp := doJSONRequest(t, router2, http.MethodGet, "/api/chats", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		CurrentChatID string `json:"current_chat_id"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)

	histResp := doJSONRequest(t, router2, http.MethodGet,
		"/api/chats/"+listBody.CurrentChatID+"/messages", nil, nil)
	assertStatus(t, histResp, http.StatusOK)
	if !strings.Contains(histResp.Body.String(), "remember me") {
		t.Fatalf("guest history lost across restart: %s", histResp.Body.String())
	}
}

func TestChatManagement(t *testing.T) {
	router, db := newTestServer(t, &scriptedChatter{reply: "ok"})
	defer db.Close()

	createResp := doJSONRequest(t, router, http.MethodPost, "/api/chats",
		map[string]string{"name": "Work"}, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var created struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Model string `json:"model"`
	}
	decodeJSON(t, createResp.Body.Bytes(), &created)
	if !strings.HasPrefix(created.ID, "chat_") || created.Model != "deepseek-chat" {
		t.Fatalf("unexpected created chat: %+v", created)
	}

	// Blank names are rejected.
	badResp := doJSONRequest(t, router, http.MethodPost, "/api/chats",
		map[string]string{"name": "   "}, nil)
	assertStatus(t, badResp, http.StatusBadRequest)

	// Model update.
	modelResp := doJSONRequest(t, router, http.MethodPut, "/api/chats/"+created.ID+"/model",
		map[string]string{"model": "claude-sonnet-4"}, nil)
	assertStatus(t, modelResp, http.StatusNoContent)

	// Selecting an unknown chat is a 404 and leaves state alone.
	selResp := doJSONRequest(t, router, http.MethodPost, "/api/chats/chat_missing/select", nil, nil)
	assertStatus(t, selResp, http.StatusNotFound)

	// Deleting the current chat reassigns current.
	delResp := doJSONRequest(t, router, http.MethodDelete, "/api/chats/"+created.ID, nil, nil)
	assertStatus(t, delResp, http.StatusOK)
	var delBody struct {
		CurrentChatID string `json:"current_chat_id"`
	}
	decodeJSON(t, delResp.Body.Bytes(), &delBody)
	if delBody.CurrentChatID == created.ID || delBody.CurrentChatID == "" {
		t.Fatalf("current not reassigned after delete: %+v", delBody)
	}
}

func TestConversationValidation(t *testing.T) {
	router, db := newTestServer(t, &scriptedChatter{reply: "ok"})
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversation/msg",
		map[string]string{"content": "   "}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestConversationStreamError(t *testing.T) {
	router, db := newTestServer(t, &scriptedChatter{fail: true})
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversation/msg",
		map[string]string{"content": "boom"}, nil)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	last := events[len(events)-1]
	if last.Name != "error" {
		t.Fatalf("expected trailing error event: %#v", events)
	}
	if !strings.Contains(last.Data, "mock failure") {
		t.Fatalf("missing error payload: %s", last.Data)
	}
}

func TestImageGeneration(t *testing.T) {
	router, db := newTestServer(t, &scriptedChatter{reply: "ok"})
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/api/conversation/image",
		map[string]string{"prompt": "a lighthouse"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Image string `json:"image"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Image != "data:image/png;base64,aW1n" {
		t.Fatalf("unexpected image ref %q", body.Image)
	}

	// The image flow appends the prompt and a marker message.
	listResp := doJSONRequest(t, router, http.MethodGet, "/api/chats", nil, nil)
	var listBody struct {
		CurrentChatID string `json:"current_chat_id"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	histResp := doJSONRequest(t, router, http.MethodGet,
		"/api/chats/"+listBody.CurrentChatID+"/messages", nil, nil)
	if !strings.Contains(histResp.Body.String(), "[Image generated below]") {
		t.Fatalf("image marker missing: %s", histResp.Body.String())
	}
}

func TestAuthenticatedUserLifecycle(t *testing.T) {
	router, db := newTestServer(t, &scriptedChatter{reply: "ok"})
	defer db.Close()

	username := fmt.Sprintf("tester_%d", time.Now().UnixNano())
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register",
		map[string]string{"username": username, "password": "pass123"}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)
	if regBody.ID == 0 {
		t.Fatalf("expected user id in register response")
	}

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login",
		map[string]string{"username": username, "password": "pass123"}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token from login")
	}
	authHeader := map[string]string{"Authorization": "Bearer " + loginBody.AuthToken}

	// Authenticated chat storage needs redis, which this server runs
	// without, so chat routes fail loudly rather than mixing identities
	// into the guest document.
	chatResp := doJSONRequest(t, router, http.MethodGet, "/api/chats", nil, authHeader)
	assertStatus(t, chatResp, http.StatusInternalServerError)

	logoutResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/logout", regBody.ID), nil, authHeader)
	assertStatus(t, logoutResp, http.StatusNoContent)

	// Token is gone after logout.
	failResp := doJSONRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/users/%d/logout", regBody.ID), nil, authHeader)
	assertStatus(t, failResp, http.StatusUnauthorized)

	// Fresh login, then delete the account.
	loginResp2 := doJSONRequest(t, router, http.MethodPost, "/api/users/login",
		map[string]string{"username": username, "password": "pass123"}, nil)
	assertStatus(t, loginResp2, http.StatusOK)
	decodeJSON(t, loginResp2.Body.Bytes(), &loginBody)
	authHeader = map[string]string{"Authorization": "Bearer " + loginBody.AuthToken}

	delResp := doJSONRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/api/users/%d", regBody.ID), nil, authHeader)
	assertStatus(t, delResp, http.StatusNoContent)

	failLogin := doJSONRequest(t, router, http.MethodPost, "/api/users/login",
		map[string]string{"username": username, "password": "pass123"}, nil)
	if failLogin.Code == http.StatusOK {
		t.Fatalf("expected login to fail after user deletion")
	}
}

func TestPathUserMismatch(t *testing.T) {
	router, db := newTestServer(t, &scriptedChatter{reply: "ok"})
	defer db.Close()

	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register",
		map[string]string{"username": "frank", "password": "pw"}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login",
		map[string]string{"username": "frank", "password": "pw"}, nil)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	authHeader := map[string]string{"Authorization": "Bearer " + loginBody.AuthToken}

	resp := doJSONRequest(t, router, http.MethodPost, "/api/users/999999/logout", nil, authHeader)
	assertStatus(t, resp, http.StatusForbidden)
}

func TestFederatedLoginEndpoint(t *testing.T) {
	router, db := newTestServer(t, &scriptedChatter{reply: "ok"})
	defer db.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/api/users/federated",
		map[string]string{"provider": "google", "subject": "sub-777"}, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Username  string `json:"username"`
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Username != "google:sub-777" || body.AuthToken == "" {
		t.Fatalf("unexpected federated login response: %+v", body)
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
