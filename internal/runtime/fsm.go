package runtime

import "fmt"

// Phase is a state of the per-turn conversation machine.
type Phase string

const (
	AwaitingInput    Phase = "awaiting_input"
	Responding       Phase = "responding"
	MaybeSummarizing Phase = "maybe_summarizing"
	Done             Phase = "done"
)

// transitions lists the legal moves. Any phase may fall back to
// AwaitingInput when a turn aborts.
var transitions = map[Phase][]Phase{
	AwaitingInput:    {Responding},
	Responding:       {MaybeSummarizing, AwaitingInput},
	MaybeSummarizing: {Done, AwaitingInput},
	Done:             {AwaitingInput},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// machine tracks one turn and publishes each move.
type machine struct {
	threadID string
	phase    Phase
	bus      *EventBus
	trail    []Phase
}

func newMachine(threadID string, bus *EventBus) *machine {
	return &machine{threadID: threadID, phase: AwaitingInput, bus: bus, trail: []Phase{AwaitingInput}}
}

func (m *machine) to(next Phase) error {
	if !CanTransition(m.phase, next) {
		return fmt.Errorf("illegal transition %s -> %s", m.phase, next)
	}
	prev := m.phase
	m.phase = next
	m.trail = append(m.trail, next)
	m.bus.PublishWithData(EventTransition, m.threadID, map[string]interface{}{
		"from": string(prev),
		"to":   string(next),
	})
	return nil
}

// abort returns the machine to AwaitingInput after a failure.
func (m *machine) abort() {
	if m.phase != AwaitingInput {
		_ = m.to(AwaitingInput)
	}
}
