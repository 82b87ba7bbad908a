package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"personalchat/internal/auth"
	"personalchat/internal/chat"
	"personalchat/internal/models"
	"personalchat/internal/session"
)

// SessionManager hands out per-identity conversation state and runs queries
// through the dispatcher.
type SessionManager interface {
	Session(ctx context.Context, identity *models.Identity) (*session.Session, error)
	Send(ctx context.Context, identity *models.Identity, prompt, model string, notify chat.Notifier) error
	GenerateImage(ctx context.Context, identity *models.Identity, prompt string, notify chat.Notifier) (string, error)
	EvictUser(userID int64)
	PurgeUser(ctx context.Context, userID int64) error
}

// Handler wires HTTP routes to the auth service and per-identity sessions.
type Handler struct {
	auth     *auth.Service
	sessions SessionManager
}

// NewHandler constructs a Handler instance.
func NewHandler(authService *auth.Service, sessions SessionManager) *Handler {
	return &Handler{auth: authService, sessions: sessions}
}

// check token userID is match with param userID
func (h *Handler) requirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := auth.IdentityFromContext(c)
		if identity == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		paramID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || paramID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if paramID != identity.UserID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
			return
		}
		c.Next()
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.POST("/users/federated", h.federatedLogin)

	userRoutes := api.Group("/users/:id")
	userRoutes.Use(h.auth.Middleware(), h.requirePathUser(), h.auth.CSRFMiddleware())
	userRoutes.POST("/logout", h.logoutUser)
	userRoutes.DELETE("", h.deleteUser)

	// Chat routes work for guests too: no token means the local session.
	chatRoutes := api.Group("")
	chatRoutes.Use(h.auth.OptionalMiddleware(), h.auth.CSRFMiddleware())
	chatRoutes.GET("/chats", h.listChats)
	chatRoutes.POST("/chats", h.createChat)
	chatRoutes.POST("/chats/:chat_id/select", h.selectChat)
	chatRoutes.DELETE("/chats/:chat_id", h.deleteChat)
	chatRoutes.PUT("/chats/:chat_id/model", h.setChatModel)
	chatRoutes.GET("/chats/:chat_id/messages", h.getChatMessages)
	chatRoutes.POST("/conversation/msg", h.captureInput)
	chatRoutes.POST("/conversation/image", h.generateImage)
}

// User create&login interface
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	h.issueSession(c, user)
}

func (h *Handler) federatedLogin(c *gin.Context) {
	var req struct {
		Provider string `json:"provider"`
		Subject  string `json:"subject"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.FederatedLogin(c.Request.Context(), req.Provider, req.Subject)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.issueSession(c, user)
}

// issueSession mints the auth and CSRF tokens for a signed-in user and sets
// the cookies. The identity-change notification published by the auth service
// is what evicts any previously cached session state.
func (h *Handler) issueSession(c *gin.Context, user *models.User) {
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	identity := auth.IdentityFromContext(c)
	h.sessions.EvictUser(identity.UserID)
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	identity := auth.IdentityFromContext(c)
	if err := h.auth.RevokeUserTokens(c.Request.Context(), identity.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.sessions.PurgeUser(c.Request.Context(), identity.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.auth.DeleteUser(c.Request.Context(), identity.UserID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// Chat management interface

type chatSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

func (h *Handler) listChats(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	snapshot := s.Repo.Snapshot()
	chats := make([]chatSummary, 0, len(snapshot))
	for id, ch := range snapshot {
		chats = append(chats, chatSummary{ID: id, Name: ch.Name, Model: ch.Model})
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	c.JSON(http.StatusOK, gin.H{
		"chats":           chats,
		"current_chat_id": s.Repo.CurrentID(),
	})
}

func (h *Handler) createChat(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ch, err := s.Repo.CreateChat(c.Request.Context(), req.Name)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, chatSummary{ID: ch.ID, Name: ch.Name, Model: ch.Model})
}

func (h *Handler) selectChat(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if !s.Repo.SwitchChat(c.Param("chat_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteChat(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if !s.Repo.DeleteChat(c.Request.Context(), c.Param("chat_id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"current_chat_id": s.Repo.CurrentID()})
}

func (h *Handler) setChatModel(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}
	if !s.Repo.SetModel(c.Request.Context(), c.Param("chat_id"), req.Model) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getChatMessages(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ch := s.Repo.Get(c.Param("chat_id"))
	if ch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat":     chatSummary{ID: ch.ID, Name: ch.Name, Model: ch.Model},
		"messages": ch.Messages,
	})
}

// User input interface
type inputRequest struct {
	Content   string `json:"content"`
	ModelType string `json:"model_type"`
}

func (h *Handler) captureInput(c *gin.Context) {
	identity := auth.IdentityFromContext(c)
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	// SSE Request construction. Headers wait for the first event so that a
	// query rejected before any output still gets a normal JSON status.
	started := false
	sendEvent := func(event string, payload interface{}) error {
		if !started {
			c.Writer.Header().Set("Content-Type", "text/event-stream")
			c.Writer.Header().Set("Cache-Control", "no-cache")
			c.Writer.Header().Set("Connection", "keep-alive")
			c.Writer.Header().Set("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	notify := func(ev chat.Event) {
		switch ev.Type {
		case chat.EventStatus:
			_ = sendEvent("status", gin.H{"status": ev.Status})
		case chat.EventAck:
			_ = sendEvent("ack", gin.H{"chat_id": ev.ChatID, "message": ev.Message})
		case chat.EventChunk:
			_ = sendEvent("stream", gin.H{"chat_id": ev.ChatID, "content": ev.Chunk})
		case chat.EventDone:
			_ = sendEvent("done", gin.H{"chat_id": ev.ChatID, "message": ev.Message})
		case chat.EventError:
			_ = sendEvent("error", gin.H{"chat_id": ev.ChatID, "message": ev.Status})
		}
	}

	err := h.sessions.Send(streamCtx, identity, req.Content, req.ModelType, notify)
	if err != nil && !started {
		msg := err.Error()
		if errors.Is(err, session.ErrDispatcherBusy) {
			msg = "server is busy, please retry"
		}
		c.JSON(statusForError(err), gin.H{"error": msg})
	}
}

func (h *Handler) generateImage(c *gin.Context) {
	identity := auth.IdentityFromContext(c)
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ref, err := h.sessions.GenerateImage(c.Request.Context(), identity, req.Prompt, nil)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, session.ErrDispatcherBusy) {
			msg = "server is busy, please retry"
		}
		c.JSON(statusForError(err), gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": ref})
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Session(c.Request.Context(), auth.IdentityFromContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return s, true
}

func statusForError(err error) int {
	switch {
	case chat.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrQueryInFlight),
		errors.Is(err, chat.ErrDuplicatePrompt),
		errors.Is(err, chat.ErrImageInFlight):
		return http.StatusConflict
	case errors.Is(err, session.ErrDispatcherBusy):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
