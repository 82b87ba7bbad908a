// Package store persists the full chat mapping as a single document. Two
// interchangeable backends exist: a local sql-backed key-value table for the
// guest session and a redis document store keyed by authenticated identity.
package store

import (
	"context"
	"encoding/json"

	"personalchat/internal/models"
)

// LocalStorageKey is the fixed document key used when no identity is present.
const LocalStorageKey = "personal_ai_chats"

// Adapter reads and writes one chat-mapping document. Load must fail soft:
// a missing or corrupt document yields an empty mapping and a nil error, so
// only infrastructure failures surface to the caller.
type Adapter interface {
	Load(ctx context.Context) (models.ChatMap, error)
	Save(ctx context.Context, chats models.ChatMap) error
}

func encodeDocument(chats models.ChatMap) ([]byte, error) {
	if chats == nil {
		chats = models.ChatMap{}
	}
	return json.Marshal(chats)
}

func decodeDocument(raw []byte) (models.ChatMap, bool) {
	var chats models.ChatMap
	if err := json.Unmarshal(raw, &chats); err != nil {
		return nil, false
	}
	// IDs live in the map keys, not the record bodies.
	for id, chat := range chats {
		if chat == nil {
			delete(chats, id)
			continue
		}
		chat.ID = id
	}
	return chats, true
}
