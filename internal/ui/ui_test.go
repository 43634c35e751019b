package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/felixgeelhaar/parley/internal/runtime"
)

func TestSilentUI_ImplementsInterface(t *testing.T) {
	var _ UI = SilentUI{}
	var _ UI = &SilentUI{}
	var _ UI = LineUI{}
}

// MockUI implements UI interface for testing
type MockUI struct {
	StatusUpdates []string
	Tools         []string
	LogMessages   []string
}

func (m *MockUI) UpdateStatus(status string) {
	m.StatusUpdates = append(m.StatusUpdates, status)
}

func (m *MockUI) ToolCall(name string) {
	m.Tools = append(m.Tools, name)
}

func (m *MockUI) Log(msg string) {
	m.LogMessages = append(m.LogMessages, msg)
}

func TestAttach(t *testing.T) {
	bus := runtime.NewEventBus()
	ui := &MockUI{}
	Attach(bus, ui)

	bus.PublishWithData(runtime.EventTransition, "t1", map[string]interface{}{"from": "awaiting_input", "to": "responding"})
	bus.PublishWithData(runtime.EventToolCall, "t1", map[string]interface{}{"tool": "search_web"})
	bus.PublishWithData(runtime.EventTransition, "t1", map[string]interface{}{"from": "responding", "to": "maybe_summarizing"})
	bus.PublishSimple(runtime.EventSummarized, "t1")
	bus.PublishWithData(runtime.EventTurnError, "t1", map[string]interface{}{"error": "boom"})

	if len(ui.StatusUpdates) != 2 || ui.StatusUpdates[0] != "thinking" || ui.StatusUpdates[1] != "summarizing" {
		t.Errorf("unexpected statuses: %v", ui.StatusUpdates)
	}
	if len(ui.Tools) != 1 || ui.Tools[0] != "search_web" {
		t.Errorf("unexpected tools: %v", ui.Tools)
	}
	if len(ui.LogMessages) != 2 || ui.LogMessages[1] != "error: boom" {
		t.Errorf("unexpected log: %v", ui.LogMessages)
	}
}

func TestLineUI(t *testing.T) {
	var buf bytes.Buffer
	ui := LineUI{W: &buf}
	ui.UpdateStatus("thinking")
	ui.ToolCall("fetch_url_content")
	ui.Log("conversation summarized")

	out := buf.String()
	if !strings.Contains(out, "fetch_url_content") || !strings.Contains(out, "conversation summarized") {
		t.Errorf("unexpected output: %q", out)
	}
	if strings.Contains(out, "thinking") {
		t.Error("status should not be printed")
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[runtime.Phase]string{
		runtime.AwaitingInput:    "ready",
		runtime.Responding:       "thinking",
		runtime.MaybeSummarizing: "summarizing",
		runtime.Done:             "saving",
	}
	for p, want := range tests {
		if got := StatusFor(p); got != want {
			t.Errorf("StatusFor(%s): expected %q, got %q", p, want, got)
		}
	}
}
