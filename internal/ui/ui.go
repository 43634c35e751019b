package ui

import (
	"fmt"
	"io"

	"github.com/felixgeelhaar/parley/internal/runtime"
)

// UI receives turn progress.
type UI interface {
	UpdateStatus(status string)
	ToolCall(name string)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string) {}
func (s SilentUI) ToolCall(name string)       {}
func (s SilentUI) Log(msg string)             {}

// LineUI prints progress as plain lines, for non-interactive chat.
type LineUI struct {
	W io.Writer
}

func (l LineUI) UpdateStatus(status string) {}

func (l LineUI) ToolCall(name string) {
	fmt.Fprintf(l.W, "  ↳ %s\n", name)
}

func (l LineUI) Log(msg string) {
	fmt.Fprintf(l.W, "  %s\n", msg)
}

// StatusFor names a phase for display.
func StatusFor(p runtime.Phase) string {
	switch p {
	case runtime.Responding:
		return "thinking"
	case runtime.MaybeSummarizing:
		return "summarizing"
	case runtime.Done:
		return "saving"
	default:
		return "ready"
	}
}

// Attach forwards bus events to u.
func Attach(bus *runtime.EventBus, u UI) {
	bus.Subscribe(runtime.EventTransition, func(e runtime.Event) {
		if to, ok := e.Data["to"].(string); ok {
			u.UpdateStatus(StatusFor(runtime.Phase(to)))
		}
	})
	bus.Subscribe(runtime.EventToolCall, func(e runtime.Event) {
		if name, ok := e.Data["tool"].(string); ok {
			u.ToolCall(name)
		}
	})
	bus.Subscribe(runtime.EventSummarized, func(e runtime.Event) {
		u.Log("conversation summarized")
	})
	bus.Subscribe(runtime.EventTurnError, func(e runtime.Event) {
		u.Log(fmt.Sprintf("error: %v", e.Data["error"]))
	})
}
