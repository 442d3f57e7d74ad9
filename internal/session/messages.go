// internal/session/messages.go
//
// Inbound events and outbound responses of the live protocol.
//
// Inbound:
//   {"type":"load"}                    page (re)loaded
//   {"type":"next"}                    request next/first puzzle
//   {"type":"answer","answer":"..."}   answer or retry the current puzzle
//   {"type":"cheat"}                   debug builds only
//
// Outbound:
//   status   {progress, puzzle?, iterations_left?}
//   puzzle   {puzzle, progress}
//   feedback {is_correct, retries_left, progress}
//   solution {solution}

package session

import "github.com/robalobadob/realeffort/internal/task"

// EventType discriminates inbound events.
type EventType string

const (
	EventLoad   EventType = "load"
	EventNext   EventType = "next"
	EventAnswer EventType = "answer"
	EventCheat  EventType = "cheat"
)

// Event is one inbound client message. Answer is a pointer so that an
// absent field can be told apart from an empty string.
type Event struct {
	Type   EventType `json:"type"`
	Answer *string   `json:"answer,omitempty"`
}

// ResponseType discriminates outbound messages.
type ResponseType string

const (
	ResponseStatus   ResponseType = "status"
	ResponsePuzzle   ResponseType = "puzzle"
	ResponseFeedback ResponseType = "feedback"
	ResponseSolution ResponseType = "solution"
)

// Response is one outbound message. Only the fields belonging to Type are set.
type Response struct {
	Type           ResponseType  `json:"type"`
	Progress       *Progress     `json:"progress,omitempty"`
	Puzzle         task.Encoding `json:"puzzle,omitempty"`
	IterationsLeft *int          `json:"iterations_left,omitempty"`
	IsCorrect      *bool         `json:"is_correct,omitempty"`
	RetriesLeft    *int          `json:"retries_left,omitempty"`
	Solution       string        `json:"solution,omitempty"`
}

// Reply addresses a response to the player whose event produced it.
type Reply struct {
	To      string
	Message Response
}

func statusMessage(p Progress, enc task.Encoding) Response {
	return Response{Type: ResponseStatus, Progress: &p, Puzzle: enc}
}

func exhaustedMessage(p Progress) Response {
	zero := 0
	return Response{Type: ResponseStatus, Progress: &p, IterationsLeft: &zero}
}

func puzzleMessage(p Progress, enc task.Encoding) Response {
	return Response{Type: ResponsePuzzle, Puzzle: enc, Progress: &p}
}

func feedbackMessage(p Progress, correct bool, retriesLeft int) Response {
	return Response{Type: ResponseFeedback, IsCorrect: &correct, RetriesLeft: &retriesLeft, Progress: &p}
}
