package chat

import (
	"context"
	"strings"
	"sync"

	"personalchat/internal/models"
)

// State is the controller's query lifecycle: Idle -> Sending -> Streaming ->
// Idle, with any failure surfacing as a status event before returning to
// Idle. Errors are terminal for the current query only.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

// Chatter streams a completion for a prepared context. onChunk receives each
// text increment in arrival order; returning an error aborts the stream.
type Chatter interface {
	StreamChat(ctx context.Context, contextText, model string, onChunk func(string) error) (string, error)
}

// ImageGenerator produces a single atomic image reference for a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// EventType discriminates controller notifications.
type EventType string

const (
	EventStatus EventType = "status" // user-visible status line changed
	EventAck    EventType = "ack"    // user message accepted into history
	EventChunk  EventType = "chunk"  // one increment applied and persisted
	EventDone   EventType = "done"   // query finished, status cleared
	EventImage  EventType = "image"  // image result appended
	EventError  EventType = "error"  // query failed, partial content kept
)

// Event is one incremental-update notification. A rendering collaborator can
// patch just the affected chat instead of redrawing everything.
type Event struct {
	Type    EventType
	ChatID  string
	Message models.Message
	Chunk   string
	Status  string
	Image   string
	Err     error
}

// Notifier receives events for one query. May be nil.
type Notifier func(Event)

// Controller manages the lifecycle of one outstanding query against a
// repository: placeholder creation, increment accumulation with
// persistence-per-chunk, and completion or error finalization. The in-flight
// and duplicate-prompt guards keep rapid repeated sends from interleaving
// writes into the same history.
type Controller struct {
	mu            sync.Mutex
	state         State
	pendingPrompt string
	hasPending    bool
	// The image flow keeps its own in-flight flag and does not share the
	// text-query guard state.
	imageBusy bool

	repo    *Repository
	chatter Chatter
	images  ImageGenerator
}

// NewController wires a controller to its repository and backends.
func NewController(repo *Repository, chatter Chatter, images ImageGenerator) *Controller {
	return &Controller{repo: repo, chatter: chatter, images: images}
}

// State reports the current query state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send runs one streaming query end to end. Guarded transitions: a query in
// flight or a prompt identical to the pending one is rejected without
// touching any state. On completion the guards reset, so the same prompt can
// be resubmitted later.
func (c *Controller) Send(ctx context.Context, prompt, model string, notify Notifier) error {
	prompt = trimPrompt(prompt)
	if prompt == "" {
		return &ValidationError{Reason: "prompt cannot be empty"}
	}

	c.mu.Lock()
	if c.hasPending && c.pendingPrompt == prompt {
		c.mu.Unlock()
		return ErrDuplicatePrompt
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrQueryInFlight
	}
	c.state = StateSending
	c.pendingPrompt = prompt
	c.hasPending = true
	c.mu.Unlock()
	defer c.finishQuery()

	// The chat is captured once. Every append below addresses it by id, so a
	// chat switch at any point during the query cannot redirect writes.
	chatID := c.repo.CurrentID()

	emit(notify, Event{Type: EventStatus, Status: "Thinking..."})

	if model != "" {
		c.repo.SetModel(ctx, chatID, model)
	}
	userMsg := models.Message{Role: models.RoleUser, Text: prompt}
	c.repo.AppendMessageTo(ctx, chatID, userMsg)
	emit(notify, Event{Type: EventAck, ChatID: chatID, Message: userMsg})

	target := c.repo.Get(chatID)
	if target == nil {
		return &ValidationError{Reason: "no chat selected"}
	}
	contextText := BuildContext(target, prompt)

	// The placeholder gives increments a stable target before the first chunk
	// arrives. Chunks address it through its ref, so appends landing in the
	// same chat mid-stream, such as a finished image generation, cannot steal
	// them.
	placeholder, ok := c.repo.AppendMessageTo(ctx, chatID, models.Message{Role: models.RoleAssistant, Text: ""})
	if !ok {
		return &ValidationError{Reason: "no chat selected"}
	}
	c.setState(StateStreaming)

	_, err := c.chatter.StreamChat(ctx, contextText, target.Model, func(chunk string) error {
		c.repo.AppendChunk(ctx, placeholder, chunk)
		emit(notify, Event{Type: EventChunk, ChatID: chatID, Chunk: chunk})
		return nil
	})
	if err != nil {
		// Already-streamed partial content stays persisted.
		terr := &TransportError{Op: "stream chat", Err: err}
		emit(notify, Event{Type: EventError, ChatID: chatID, Status: "Error: " + err.Error(), Err: terr})
		return terr
	}

	done := Event{Type: EventDone, ChatID: chatID}
	if final, ok := c.repo.Message(placeholder); ok {
		done.Message = final
	}
	emit(notify, done)
	return nil
}

// GenerateImage runs the parallel image flow: same Idle/Sending/Idle shape,
// one atomic result, own in-flight flag. Returns the image reference.
func (c *Controller) GenerateImage(ctx context.Context, prompt string, notify Notifier) (string, error) {
	prompt = trimPrompt(prompt)
	if prompt == "" {
		return "", &ValidationError{Reason: "prompt cannot be empty"}
	}
	if c.images == nil {
		return "", &ValidationError{Reason: "image generation is not configured"}
	}

	c.mu.Lock()
	if c.imageBusy {
		c.mu.Unlock()
		return "", ErrImageInFlight
	}
	c.imageBusy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.imageBusy = false
		c.mu.Unlock()
	}()

	emit(notify, Event{Type: EventStatus, Status: "Generating image..."})

	ref, err := c.images.GenerateImage(ctx, prompt)
	if err != nil {
		terr := &TransportError{Op: "generate image", Err: err}
		emit(notify, Event{Type: EventError, Status: "Error generating image.", Err: terr})
		return "", terr
	}

	chatID := c.repo.CurrentID()
	c.repo.AppendMessage(ctx, models.Message{Role: models.RoleUser, Text: prompt})
	c.repo.AppendMessage(ctx, models.Message{
		Role:        models.RoleAssistant,
		Text:        "[Image generated below]",
		CreatedType: "image",
	})
	emit(notify, Event{Type: EventImage, ChatID: chatID, Image: ref, Status: "Image generated."})
	return ref, nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) finishQuery() {
	c.mu.Lock()
	c.state = StateIdle
	c.hasPending = false
	c.pendingPrompt = ""
	c.mu.Unlock()
}

func emit(notify Notifier, ev Event) {
	if notify != nil {
		notify(ev)
	}
}

func trimPrompt(s string) string {
	return strings.TrimSpace(s)
}
