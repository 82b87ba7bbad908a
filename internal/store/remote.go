package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"personalchat/internal/models"
	"personalchat/internal/redis"
)

const chatDocumentField = "chats"

// RemoteStore keeps each authenticated identity's chat mapping as one redis
// hash, the full document stored under a single known field.
type RemoteStore struct {
	client *redis.Client
	userID int64
}

// NewRemoteStore builds the remote adapter for an identity.
func NewRemoteStore(client *redis.Client, userID int64) (*RemoteStore, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	return &RemoteStore{client: client, userID: userID}, nil
}

func (s *RemoteStore) docKey() string {
	return fmt.Sprintf("chats:user:%d", s.userID)
}

// Load reads the identity's document. A missing or undecodable document
// returns an empty mapping.
func (s *RemoteStore) Load(ctx context.Context) (models.ChatMap, error) {
	raw, err := s.client.HGet(ctx, s.docKey(), chatDocumentField)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return models.ChatMap{}, nil
		}
		return models.ChatMap{}, fmt.Errorf("load chat document for user %d: %w", s.userID, err)
	}
	chats, ok := decodeDocument([]byte(raw))
	if !ok {
		log.Printf("chat document for user %d is corrupt, starting empty", s.userID)
		return models.ChatMap{}, nil
	}
	return chats, nil
}

// Save writes the full mapping as one document.
func (s *RemoteStore) Save(ctx context.Context, chats models.ChatMap) error {
	doc, err := encodeDocument(chats)
	if err != nil {
		return fmt.Errorf("encode chat document: %w", err)
	}
	if err := s.client.HSet(ctx, s.docKey(), chatDocumentField, string(doc)); err != nil {
		return fmt.Errorf("save chat document for user %d: %w", s.userID, err)
	}
	return nil
}

// Delete removes the identity's document entirely (account deletion).
func (s *RemoteStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.docKey()); err != nil {
		return fmt.Errorf("delete chat document for user %d: %w", s.userID, err)
	}
	return nil
}
