package chat

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"personalchat/internal/models"
	"personalchat/internal/store"
)

// Repository owns the in-memory chat mapping and the currently-selected chat
// id, and enforces the history invariants: id uniqueness, the message cap,
// and consecutive-duplicate user suppression. Every successful mutation is
// persisted through the adapter; persistence failures are logged and the
// in-memory state stays authoritative for the session.
type Repository struct {
	mu      sync.Mutex
	adapter store.Adapter

	chats   models.ChatMap
	current string
	// usedIDs records every id ever allocated so deleted ids are never reused.
	usedIDs map[string]struct{}
	// seq keeps per-chat append and eviction counts so a MessageRef still
	// resolves after older messages fall off the cap.
	seq map[string]*chatSeq

	defaultModel    string
	defaultChatName string
}

// NewRepository builds an empty repository bound to a persistence adapter.
// Call Load before use.
func NewRepository(adapter store.Adapter, defaultModel, defaultChatName string) *Repository {
	if defaultModel == "" {
		defaultModel = "deepseek-chat"
	}
	if defaultChatName == "" {
		defaultChatName = "Default Chat"
	}
	return &Repository{
		adapter:         adapter,
		chats:           models.ChatMap{},
		usedIDs:         make(map[string]struct{}),
		seq:             make(map[string]*chatSeq),
		defaultModel:    defaultModel,
		defaultChatName: defaultChatName,
	}
}

type chatSeq struct {
	appended int64 // messages ever appended to the chat
	evicted  int64 // messages dropped by the history cap
}

// MessageRef addresses one appended message inside one chat. It stays valid
// while the message is in the history, even when other messages are appended
// around it or older entries are evicted, so a stream can keep writing to the
// exact message it created.
type MessageRef struct {
	ChatID string
	pos    int64
}

// Load replaces in-memory state wholesale from the adapter, runs the cleanup
// pass over adopted histories, and guarantees at least one chat exists with a
// valid current id.
func (r *Repository) Load(ctx context.Context) {
	chats, err := r.adapter.Load(ctx)
	if err != nil {
		log.Printf("load chats: %v", err)
		chats = models.ChatMap{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.chats = models.ChatMap{}
	r.current = ""
	r.seq = make(map[string]*chatSeq)
	for id, chat := range chats {
		if chat == nil || id == "" {
			continue
		}
		if strings.TrimSpace(chat.Name) == "" {
			chat.Name = r.defaultChatName
		}
		if chat.Model == "" {
			chat.Model = r.defaultModel
		}
		chat.Messages = trimToCap(dedupAdjacent(chat.Messages))
		r.chats[id] = chat
		r.usedIDs[id] = struct{}{}
		r.seq[id] = &chatSeq{appended: int64(len(chat.Messages))}
		if r.current == "" {
			r.current = id
		}
	}
	if len(r.chats) == 0 {
		r.synthesizeDefaultLocked()
	}
	r.persistLocked(ctx)
}

// CreateChat allocates a fresh chat, makes it current, and persists.
func (r *Repository) CreateChat(ctx context.Context, name string) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Reason: "chat name cannot be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chat := &models.Chat{
		ID:    r.newChatIDLocked(),
		Name:  name,
		Model: r.defaultModel,
	}
	r.chats[chat.ID] = chat
	r.current = chat.ID
	r.persistLocked(ctx)
	return chat.Clone(), nil
}

// SwitchChat makes the id current. Unknown ids are a silent no-op.
func (r *Repository) SwitchChat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[id]; !ok {
		return false
	}
	r.current = id
	return true
}

// DeleteChat removes the chat. When the current chat is deleted, current
// moves to an arbitrary remaining chat, or a fresh default chat is
// synthesized if none remain. Confirmation is the caller's concern.
func (r *Repository) DeleteChat(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[id]; !ok {
		return false
	}
	delete(r.chats, id)
	delete(r.seq, id)
	if r.current == id {
		r.current = ""
		for remaining := range r.chats {
			r.current = remaining
			break
		}
		if r.current == "" {
			r.synthesizeDefaultLocked()
		}
	}
	r.persistLocked(ctx)
	return true
}

// AppendMessage appends to the current chat's history, suppressing a user
// turn that duplicates the immediately preceding one and evicting the oldest
// entry beyond the cap. Returns false without error when there is no current
// chat or the append was suppressed.
func (r *Repository) AppendMessage(ctx context.Context, msg models.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.appendLocked(r.current, msg)
	if ok {
		r.persistLocked(ctx)
	}
	return ok
}

// AppendMessageTo appends to an explicit chat id, applying the same
// suppression and cap rules, and returns a ref to the appended message.
// In-flight streams append through this so the chat they started in keeps
// receiving their writes regardless of which chat is currently selected.
func (r *Repository) AppendMessageTo(ctx context.Context, chatID string, msg models.Message) (MessageRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.appendLocked(chatID, msg)
	if ok {
		r.persistLocked(ctx)
	}
	return ref, ok
}

func (r *Repository) appendLocked(chatID string, msg models.Message) (MessageRef, bool) {
	chat, ok := r.chats[chatID]
	if !ok {
		return MessageRef{}, false
	}
	if isDuplicateUser(chat.LastMessage(), msg.Role, msg.Text) {
		return MessageRef{}, false
	}
	chat.Messages = append(chat.Messages, msg)
	s := r.seqFor(chatID)
	ref := MessageRef{ChatID: chatID, pos: s.appended}
	s.appended++
	if over := len(chat.Messages) - MaxMessages; over > 0 {
		chat.Messages = chat.Messages[over:]
		s.evicted += int64(over)
	}
	return ref, true
}

// AppendChunk concatenates a stream increment onto the exact message the ref
// was issued for, so interleaved appends into the same chat cannot redirect
// an in-flight stream's writes. Returns false when the chat is gone or the
// message has been evicted. Persists per increment.
func (r *Repository) AppendChunk(ctx context.Context, ref MessageRef, chunk string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.resolveLocked(ref)
	if !ok {
		return false
	}
	msg.Text += chunk
	r.persistLocked(ctx)
	return true
}

// Message returns a copy of the referenced message, if it still exists.
func (r *Repository) Message(ref MessageRef) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.resolveLocked(ref)
	if !ok {
		return models.Message{}, false
	}
	return *msg, true
}

func (r *Repository) resolveLocked(ref MessageRef) (*models.Message, bool) {
	chat, ok := r.chats[ref.ChatID]
	if !ok {
		return nil, false
	}
	idx := ref.pos - r.seqFor(ref.ChatID).evicted
	if idx < 0 || idx >= int64(len(chat.Messages)) {
		return nil, false
	}
	return &chat.Messages[idx], true
}

func (r *Repository) seqFor(chatID string) *chatSeq {
	s, ok := r.seq[chatID]
	if !ok {
		s = &chatSeq{}
		r.seq[chatID] = s
	}
	return s
}

// SetModel updates a chat's model identifier and persists immediately.
func (r *Repository) SetModel(ctx context.Context, id, model string) bool {
	model = strings.TrimSpace(model)
	if model == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[id]
	if !ok {
		return false
	}
	chat.Model = model
	r.persistLocked(ctx)
	return true
}

// CurrentID returns the currently-selected chat id.
func (r *Repository) CurrentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Current returns a deep copy of the current chat, or nil if none exists.
func (r *Repository) Current() *models.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chats[r.current].Clone()
}

// Get returns a deep copy of the chat with the given id.
func (r *Repository) Get(id string) *models.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chats[id].Clone()
}

// Snapshot returns a deep copy of the full mapping for rendering.
func (r *Repository) Snapshot() models.ChatMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(models.ChatMap, len(r.chats))
	for id, chat := range r.chats {
		out[id] = chat.Clone()
	}
	return out
}

// Len reports how many chats exist.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats)
}

func (r *Repository) synthesizeDefaultLocked() {
	chat := &models.Chat{
		ID:    r.newChatIDLocked(),
		Name:  r.defaultChatName,
		Model: r.defaultModel,
	}
	r.chats[chat.ID] = chat
	r.current = chat.ID
}

func (r *Repository) newChatIDLocked() string {
	for {
		id := "chat_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		if _, taken := r.usedIDs[id]; taken {
			continue
		}
		r.usedIDs[id] = struct{}{}
		return id
	}
}

// persistLocked saves the mapping best-effort. A failed save is logged, never
// fatal: the in-memory state remains the source of truth for the session.
func (r *Repository) persistLocked(ctx context.Context) {
	if r.adapter == nil {
		return
	}
	if err := r.adapter.Save(ctx, r.chats); err != nil {
		log.Printf("persist chats: %v", err)
	}
}
