package session

import (
	"errors"
	"fmt"
)

// Code identifies a protocol violation category.
type Code string

const (
	CodeUnansweredPuzzle  Code = "unanswered_puzzle"
	CodeTooFast           Code = "too_fast"
	CodeNoAttemptsLeft    Code = "no_attempts_left"
	CodeNoPuzzle          Code = "no_puzzle"
	CodeUnrecognizedEvent Code = "unrecognized_event"
)

// ProtocolError is returned when a client event violates the session
// protocol. The event is rejected as a whole and no state is changed.
type ProtocolError struct {
	Code    Code
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any ProtocolError carrying the same code.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.Code == e.Code
}

var (
	ErrUnansweredPuzzle  = &ProtocolError{Code: CodeUnansweredPuzzle, Message: "trying to skip over unsolved puzzle"}
	ErrTooFast           = &ProtocolError{Code: CodeTooFast, Message: "retrying too fast"}
	ErrNoAttemptsLeft    = &ProtocolError{Code: CodeNoAttemptsLeft, Message: "no more attempts allowed"}
	ErrNoPuzzle          = &ProtocolError{Code: CodeNoPuzzle, Message: "trying to answer no puzzle"}
	ErrUnrecognizedEvent = &ProtocolError{Code: CodeUnrecognizedEvent, Message: "unrecognized message from client"}
)

// ErrInvalidAnswer rejects an empty or missing answer value.
var ErrInvalidAnswer = errors.New("bogus answer")

// ErrPlayerNotFound is returned by repositories for unknown player ids.
var ErrPlayerNotFound = errors.New("player not found")

// ErrDuplicatePuzzle is returned by repositories when a puzzle for an
// existing (player, iteration) pair is inserted again.
var ErrDuplicatePuzzle = errors.New("puzzle already exists for iteration")

func tooFast(what string) error {
	return &ProtocolError{Code: CodeTooFast, Message: what + " too fast"}
}
