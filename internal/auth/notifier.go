package auth

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"personalchat/internal/redis"
)

const identityEventChannel = "auth:identity"

// IdentityEventType is the kind of identity transition.
type IdentityEventType string

const (
	EventSignIn  IdentityEventType = "sign-in"
	EventSignOut IdentityEventType = "sign-out"
)

// IdentityEvent announces that an identity's authentication state changed.
// Subscribers reload the affected persistence state wholesale.
type IdentityEvent struct {
	Type   IdentityEventType `json:"type"`
	UserID int64             `json:"user_id"`
}

// Notifier fans identity events out to in-process subscribers and, when a
// redis client is present, across instances over pub/sub.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan IdentityEvent
	nextID int
	client *redis.Client
}

// NewNotifier builds a notifier. client may be nil for single-instance use.
func NewNotifier(client *redis.Client) *Notifier {
	n := &Notifier{
		subs:   make(map[int]chan IdentityEvent),
		client: client,
	}
	n.startListener()
	return n
}

// Subscribe registers an event channel. The returned cancel func must be
// called to release it.
func (n *Notifier) Subscribe() (<-chan IdentityEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	ch := make(chan IdentityEvent, 8)
	n.subs[id] = ch
	cancel := func() {
		n.mu.Lock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event locally and broadcasts it to peer instances.
func (n *Notifier) Publish(ev IdentityEvent) {
	n.deliver(ev)
	if n.client == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("identity event marshal failed: %v", err)
		return
	}
	if err := n.client.Publish(context.Background(), identityEventChannel, payload); err != nil {
		log.Printf("identity event publish failed: %v", err)
	}
}

func (n *Notifier) deliver(ev IdentityEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber, drop rather than block auth flow
		}
	}
}

// startListener fans remote identity events into local subscribers.
func (n *Notifier) startListener() {
	if n.client == nil {
		return
	}
	raw := n.client.Raw()
	if raw == nil {
		return
	}
	go func() {
		ctx := context.Background()
		pubsub := raw.Subscribe(ctx, identityEventChannel)
		ch := pubsub.Channel()
		for msg := range ch {
			var ev IdentityEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("identity event decode failed: %v", err)
				continue
			}
			n.deliver(ev)
		}
	}()
}
