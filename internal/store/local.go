package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"personalchat/internal/models"
)

// LocalStore keeps chat documents in the chat_documents table of the local
// database. It serves the guest session under the fixed storage key.
type LocalStore struct {
	db  *sql.DB
	key string
}

// NewLocalStore builds a local adapter bound to a document key. An empty key
// falls back to the fixed guest key.
func NewLocalStore(db *sql.DB, key string) *LocalStore {
	if key == "" {
		key = LocalStorageKey
	}
	return &LocalStore{db: db, key: key}
}

// Load reads the document for the bound key. Missing or undecodable documents
// return an empty mapping.
func (s *LocalStore) Load(ctx context.Context) (models.ChatMap, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM chat_documents WHERE doc_key = ?`, s.key,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ChatMap{}, nil
		}
		return models.ChatMap{}, fmt.Errorf("load chat document %s: %w", s.key, err)
	}
	chats, ok := decodeDocument([]byte(raw))
	if !ok {
		log.Printf("chat document %s is corrupt, starting empty", s.key)
		return models.ChatMap{}, nil
	}
	return chats, nil
}

// Save upserts the full mapping as one document.
func (s *LocalStore) Save(ctx context.Context, chats models.ChatMap) error {
	doc, err := encodeDocument(chats)
	if err != nil {
		return fmt.Errorf("encode chat document: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_documents (doc_key, doc, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(doc_key) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		s.key, string(doc), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save chat document %s: %w", s.key, err)
	}
	return nil
}
