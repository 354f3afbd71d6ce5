package status

import (
	"testing"

	"github.com/drift-im/drift/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Listening},
		{Booting, Error},
		{Listening, Ready},
		{Listening, Degraded},
		{Ready, Degraded},
		{Ready, Offline},
		{Degraded, Ready},
		{Offline, Listening},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("node.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Listening); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "node.status_changed" {
		t.Errorf("event kind = %q, want node.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Listening {
		t.Errorf("change = %v -> %v, want BOOTING -> LISTENING", change.From, change.To)
	}
}

// TestStartupLifecycle simulates the normal startup path:
// BOOTING → LISTENING → READY
func TestStartupLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Listening, Ready}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Ready {
		t.Errorf("final state = %s, want READY", m.Current())
	}
}

// TestDegradeRecoverCycle verifies the degrade/recover loop:
// READY → DEGRADED → READY
func TestDegradeRecoverCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	steps := []State{Degraded, Ready}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Ready {
		t.Errorf("final state = %s, want READY", m.Current())
	}
}

// TestOfflineRequiresListeningToRecover verifies OFFLINE cannot jump
// straight to READY; the node must re-open its listener first.
func TestOfflineRequiresListeningToRecover(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	if err := m.Transition(Offline); err != nil {
		t.Fatalf("READY -> OFFLINE: %v", err)
	}
	if err := m.Transition(Ready); err == nil {
		t.Fatal("Transition(OFFLINE -> READY) should fail; must go through LISTENING")
	}
	if err := m.Transition(Listening); err != nil {
		t.Fatalf("OFFLINE -> LISTENING: %v", err)
	}
	if err := m.Transition(Ready); err != nil {
		t.Fatalf("LISTENING -> READY: %v", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:   {},
		Listening: {Listening},
		Ready:     {Listening, Ready},
		Degraded:  {Listening, Degraded},
		Offline:   {Offline},
		Error:     {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
