package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"personalchat/internal/auth"
	"personalchat/internal/chat"
	"personalchat/internal/config"
	"personalchat/internal/models"
	"personalchat/internal/redis"
	"personalchat/internal/store"
)

// Manager maintains one Session per identity, selecting the persistence
// backend by authentication state: the guest session lives in the local
// database under a fixed key, authenticated identities in the remote
// document store. An identity transition replaces the in-memory state
// wholesale by evicting the cached session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	db         *sql.DB
	rdb        *redis.Client
	cfg        *config.Config
	chatter    chat.Chatter
	images     chat.ImageGenerator
	dispatcher *Dispatcher
}

// NewManager builds the manager and starts listening for identity-change
// notifications. images may be nil when no image backend is configured.
func NewManager(db *sql.DB, rdb *redis.Client, cfg *config.Config, chatter chat.Chatter, images chat.ImageGenerator, notifier *auth.Notifier, dispatchCfg DispatcherConfig) *Manager {
	m := &Manager{
		sessions:   make(map[string]*Session),
		db:         db,
		rdb:        rdb,
		cfg:        cfg,
		chatter:    chatter,
		images:     images,
		dispatcher: NewDispatcher(dispatchCfg),
	}
	if notifier != nil {
		events, _ := notifier.Subscribe()
		go m.watchIdentityEvents(events)
	}
	return m
}

// Session returns the identity's session, loading it from the applicable
// backend on first access.
func (m *Manager) Session(ctx context.Context, identity *models.Identity) (*Session, error) {
	key := sessionKey(identity)

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	adapter, err := m.adapterFor(identity)
	if err != nil {
		return nil, err
	}
	repo := chat.NewRepository(adapter, m.cfg.BasicConfig.DefaultModel, m.cfg.BasicConfig.DefaultChatName)
	repo.Load(ctx)
	s := &Session{
		Identity: identity,
		Repo:     repo,
		Ctrl:     chat.NewController(repo, m.chatter, m.images),
		key:      key,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// another request may have loaded it concurrently; keep the first
	if existing, ok := m.sessions[key]; ok {
		return existing, nil
	}
	m.sessions[key] = s
	return s, nil
}

// Send enqueues a streaming query for the identity and blocks until it
// finishes. notify receives the query's incremental events from the worker.
func (m *Manager) Send(ctx context.Context, identity *models.Identity, prompt, model string, notify chat.Notifier) error {
	s, err := m.Session(ctx, identity)
	if err != nil {
		return err
	}
	task := &sendTask{
		ctx:      ctx,
		session:  s,
		prompt:   prompt,
		model:    model,
		notify:   notify,
		resultCh: make(chan error, 1),
	}
	if err := m.dispatcher.Enqueue(Job{Type: Send, SendTask: task}); err != nil {
		return err
	}
	return <-task.resultCh
}

// GenerateImage enqueues an image query and blocks for its atomic result.
func (m *Manager) GenerateImage(ctx context.Context, identity *models.Identity, prompt string, notify chat.Notifier) (string, error) {
	s, err := m.Session(ctx, identity)
	if err != nil {
		return "", err
	}
	task := &imageTask{
		ctx:      ctx,
		session:  s,
		prompt:   prompt,
		notify:   notify,
		resultCh: make(chan imageResult, 1),
	}
	if err := m.dispatcher.Enqueue(Job{Type: Image, ImageTask: task}); err != nil {
		return "", err
	}
	res := <-task.resultCh
	return res.ref, res.err
}

// EvictUser drops the cached session for a user id so the next access
// reloads from the applicable backend.
func (m *Manager) EvictUser(userID int64) {
	key := userSessionKey(userID)
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
	m.dispatcher.CancelSession(key)
}

// PurgeUser removes the user's persisted chat document and cached session
// (account deletion).
func (m *Manager) PurgeUser(ctx context.Context, userID int64) error {
	m.EvictUser(userID)
	if m.rdb == nil {
		return nil
	}
	remote, err := store.NewRemoteStore(m.rdb, userID)
	if err != nil {
		return err
	}
	return remote.Delete(ctx)
}

func (m *Manager) adapterFor(identity *models.Identity) (store.Adapter, error) {
	if identity == nil {
		return store.NewLocalStore(m.db, store.LocalStorageKey), nil
	}
	if m.rdb == nil {
		return nil, fmt.Errorf("remote store unavailable for user %d", identity.UserID)
	}
	return store.NewRemoteStore(m.rdb, identity.UserID)
}

func (m *Manager) watchIdentityEvents(events <-chan auth.IdentityEvent) {
	for ev := range events {
		debugLog("[session] identity event %s for user %d", ev.Type, ev.UserID)
		m.EvictUser(ev.UserID)
	}
}

func sessionKey(identity *models.Identity) string {
	if identity == nil {
		return "local:" + store.LocalStorageKey
	}
	return userSessionKey(identity.UserID)
}

func userSessionKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}
