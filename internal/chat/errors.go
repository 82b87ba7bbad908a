package chat

import (
	"errors"
	"fmt"
)

// ValidationError rejects a single action (empty chat name, empty prompt)
// without affecting the rest of the session.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransportError wraps a failure from the inference or image backend. Partial
// content already streamed stays persisted; the query simply ends.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Guard rejections. Both are no-ops from the caller's point of view: nothing
// was appended and nothing was dispatched.
var (
	ErrQueryInFlight   = errors.New("query already in flight")
	ErrDuplicatePrompt = errors.New("prompt identical to the pending query")
	ErrImageInFlight   = errors.New("image generation already in flight")
)
