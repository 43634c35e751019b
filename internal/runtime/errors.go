package runtime

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned for a blank user message.
var ErrEmptyMessage = errors.New("message is empty")

// Generation failure kinds.
const (
	KindModel              = "model"
	KindNoAssistantMessage = "no_assistant_message"
	KindToolLoop           = "tool_loop"
	KindBudget             = "budget"
	KindSummarize          = "summarize"
)

// GenerationError aborts a turn without touching stored state.
type GenerationError struct {
	Kind string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PersistenceError reports a checkpoint read or write failure. The thread
// keeps whatever was last saved.
type PersistenceError struct {
	Op       string
	ThreadID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s for thread %s failed: %v", e.Op, e.ThreadID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
