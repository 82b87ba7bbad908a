package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"personalchat/internal/auth"
	"personalchat/internal/config"
	"personalchat/internal/models"
	"personalchat/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {
				DSN: ":memory:",
			},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func newTestManager(t *testing.T, notifier *auth.Notifier) (*Manager, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	cfg := &config.Config{}
	chatter := &countingChatter{}
	m := NewManager(db, nil, cfg, chatter, nil, notifier, DispatcherConfig{})
	return m, db
}

func TestManagerGuestSession(t *testing.T) {
	m, db := newTestManager(t, nil)
	defer db.Close()
	ctx := context.Background()

	s, err := m.Session(ctx, nil)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if s.Repo.Len() != 1 {
		t.Fatalf("guest repo not initialized: %d chats", s.Repo.Len())
	}

	again, err := m.Session(ctx, nil)
	if err != nil {
		t.Fatalf("Session repeat: %v", err)
	}
	if again != s {
		t.Fatalf("guest session not cached")
	}
}

func TestManagerAuthenticatedNeedsRemoteStore(t *testing.T) {
	m, db := newTestManager(t, nil)
	defer db.Close()

	identity := &models.Identity{UserID: 7, Username: "grace"}
	if _, err := m.Session(context.Background(), identity); err == nil {
		t.Fatalf("expected error without a remote store")
	}
}

func TestManagerEvictsOnIdentityEvent(t *testing.T) {
	notifier := auth.NewNotifier(nil)
	m, db := newTestManager(t, notifier)
	defer db.Close()
	ctx := context.Background()

	guest, err := m.Session(ctx, nil)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	// Identity events target user sessions; the guest session stays put.
	notifier.Publish(auth.IdentityEvent{Type: auth.EventSignIn, UserID: 42})
	time.Sleep(50 * time.Millisecond)

	again, err := m.Session(ctx, nil)
	if err != nil {
		t.Fatalf("Session after event: %v", err)
	}
	if again != guest {
		t.Fatalf("guest session evicted by unrelated identity event")
	}
}

func TestManagerEvictUser(t *testing.T) {
	m, db := newTestManager(t, nil)
	defer db.Close()

	key := userSessionKey(42)
	m.mu.Lock()
	m.sessions[key] = &Session{key: key}
	m.mu.Unlock()

	m.EvictUser(42)

	m.mu.Lock()
	_, still := m.sessions[key]
	m.mu.Unlock()
	if still {
		t.Fatalf("session not evicted")
	}
}
