package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed Controller.
	ErrClosed = errors.New("feed: controller closed")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("feed: controller already started")

	errStreamClosed = errors.New("feed: watch stream closed")
)

// ValidationError reports a message that is empty after sanitization.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// AuthenticationError reports a sign-in that did not succeed. Message is
// the identity service's text and is meant to be shown to the user.
type AuthenticationError struct {
	Status  int
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Status == 0 {
		return "sign-in failed: " + e.Message
	}
	return fmt.Sprintf("sign-in failed (%d): %s", e.Status, e.Message)
}

// WriteError wraps a failed append. The draft is left untouched.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return "send failed: " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
