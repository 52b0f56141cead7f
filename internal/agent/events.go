package agent

import (
	"github.com/nomai-core/server/internal/chat"
)

// Event is a closed sum over the lifecycle events one agent run produces,
// in the order the run's state machine advances:
//
//	UserPromptEvent → (TextDeltaEvent* → (FinalResultEvent |
//	ToolCallRequestedEvent/ToolCallCompletedEvent pairs))* → EndEvent
//
// Consumers type-switch over this interface and must handle every variant.
type Event interface {
	isEvent()
}

// UserPromptEvent registers the caller's prompt as the run's first event.
type UserPromptEvent struct {
	Prompt string
}

// TextDeltaEvent carries one increment of streamed model text along with
// the text accumulated so far in this run.
type TextDeltaEvent struct {
	Delta       string
	Accumulated string
}

// FinalResultEvent signals the model answered directly without requesting
// a tool. Content is the full accumulated text of the run.
type FinalResultEvent struct {
	Content string
}

// ToolCallRequestedEvent is emitted once per tool call the model requests.
type ToolCallRequestedEvent struct {
	Call chat.ToolCallPart
}

// ToolCallCompletedEvent carries the executed tool's return payload.
type ToolCallCompletedEvent struct {
	Return chat.ToolReturnPart
}

// EndEvent is terminal: the run is complete and the aggregate output is
// available.
type EndEvent struct {
	Output string
}

func (UserPromptEvent) isEvent()        {}
func (TextDeltaEvent) isEvent()         {}
func (FinalResultEvent) isEvent()       {}
func (ToolCallRequestedEvent) isEvent() {}
func (ToolCallCompletedEvent) isEvent() {}
func (EndEvent) isEvent()               {}

// Sink receives run events as they happen. Returning an error stops the run
// promptly; the driver releases the provider stream and surfaces the error.
type Sink func(Event) error
