package relay

import (
	"log/slog"
	"testing"
)

func Test_SessionState_Forward(t *testing.T) {
	s := newSession("example.com", slog.Default())

	if got := s.currentState(); got != StateNegotiating {
		t.Errorf("expected initial state negotiating, got %q", got)
	}

	s.setState(StateBothAccepted)
	s.setState(StateRelaying)
	if got := s.currentState(); got != StateRelaying {
		t.Errorf("expected relaying, got %q", got)
	}
}

func Test_SessionState_ClosingIsSticky(t *testing.T) {
	s := newSession("example.com", slog.Default())
	s.setState(StateRelaying)
	s.setState(StateClosing)

	// A pump observing its own teardown must not drag the session back.
	s.setState(StateRelaying)
	if got := s.currentState(); got != StateClosing {
		t.Errorf("expected closing to stick, got %q", got)
	}

	s.setState(StateClosed)
	s.setState(StateClosing)
	if got := s.currentState(); got != StateClosed {
		t.Errorf("expected closed to be terminal, got %q", got)
	}
}
