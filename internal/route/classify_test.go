package route

import (
	"testing"

	"js8bridge/internal/radio"
	logx "js8bridge/pkg/logx"
)

func newTestClassifier() *Classifier {
	return NewClassifier(Config{
		Groups:       []string{"TEAM", "WX"},
		UrgentGroups: []string{"EMERGENCY"},
		BlockedWords: []string{"spam"},
	}, logx.Nop())
}

func TestClassifyDirect(t *testing.T) {
	c := newTestClassifier()
	msg, ok := c.Classify(radio.Event{Type: radio.EventTypeDirected, Value: "N0CALL: Hello world"})
	if !ok {
		t.Fatalf("expected forwardable message")
	}
	if msg.Scope != ScopeDirect || msg.Sender != "N0CALL" || msg.Body != "Hello world" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if got := msg.Destination(); got != "DIRECT" {
		t.Fatalf("destination = %q, want DIRECT", got)
	}
	if got := msg.Render(); got != "Direct message from N0CALL: Hello world" {
		t.Fatalf("render = %q", got)
	}
}

func TestClassifyGroup(t *testing.T) {
	c := newTestClassifier()
	msg, ok := c.Classify(radio.Event{Type: radio.EventTypeDirected, Value: "N0CALL: TEAM status ok"})
	if !ok {
		t.Fatalf("expected forwardable message")
	}
	if msg.Scope != ScopeGroup || msg.Group != "TEAM" || msg.Body != "status ok" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if got := msg.Render(); got != "Group message from N0CALL to TEAM: status ok" {
		t.Fatalf("render = %q", got)
	}
}

func TestClassifyUrgent(t *testing.T) {
	c := newTestClassifier()
	msg, ok := c.Classify(radio.Event{Type: radio.EventTypeDirected, Value: "N0CALL: EMERGENCY need assistance"})
	if !ok {
		t.Fatalf("expected forwardable message")
	}
	if msg.Scope != ScopeUrgent || msg.Group != "EMERGENCY" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if got := msg.Render(); got != "URGENT message from N0CALL to EMERGENCY: need assistance" {
		t.Fatalf("render = %q", got)
	}
}

func TestClassifyPrefixWithoutBoundary(t *testing.T) {
	// Group resolution is a plain prefix match; "WXALERT high winds" resolves
	// to group WX with body "ALERT high winds".
	c := newTestClassifier()
	msg, ok := c.Classify(radio.Event{Type: radio.EventTypeDirected, Value: "N0CALL: WXALERT high winds"})
	if !ok {
		t.Fatalf("expected forwardable message")
	}
	if msg.Scope != ScopeGroup || msg.Group != "WX" || msg.Body != "ALERT high winds" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestClassifyOrdinaryCatalogWins(t *testing.T) {
	c := NewClassifier(Config{
		Groups:       []string{"EM"},
		UrgentGroups: []string{"EMERGENCY"},
	}, logx.Nop())
	msg, ok := c.Classify(radio.Event{Type: radio.EventTypeDirected, Value: "N0CALL: EMERGENCY now"})
	if !ok {
		t.Fatalf("expected forwardable message")
	}
	if msg.Scope != ScopeGroup || msg.Group != "EM" {
		t.Fatalf("expected ordinary catalog to win: %+v", msg)
	}
}

func TestClassifyBlockedWord(t *testing.T) {
	c := newTestClassifier()
	if _, ok := c.Classify(radio.Event{Type: radio.EventTypeDirected, Value: "N0CALL: buy SPAM today"}); ok {
		t.Fatalf("expected blocked message to be dropped")
	}
}

func TestClassifyIgnoresOtherEventTypes(t *testing.T) {
	c := newTestClassifier()
	if _, ok := c.Classify(radio.Event{Type: "RX.SPOT", Value: "N0CALL: hello"}); ok {
		t.Fatalf("expected non-directed event to be dropped")
	}
}

func TestClassifyMissingColon(t *testing.T) {
	c := newTestClassifier()
	if _, ok := c.Classify(radio.Event{Type: radio.EventTypeDirected, Value: "no separator here"}); ok {
		t.Fatalf("expected malformed value to be dropped")
	}
}

func TestClassifyApplySwapsCatalogs(t *testing.T) {
	c := newTestClassifier()
	c.Apply(Config{Groups: []string{"NEW"}})

	msg, ok := c.Classify(radio.Event{Type: radio.EventTypeDirected, Value: "N0CALL: TEAM status"})
	if !ok || msg.Scope != ScopeDirect {
		t.Fatalf("expected TEAM to fall back to direct after reload: %+v", msg)
	}
	msg, ok = c.Classify(radio.Event{Type: radio.EventTypeDirected, Value: "N0CALL: NEW hi"})
	if !ok || msg.Group != "NEW" {
		t.Fatalf("expected NEW group after reload: %+v", msg)
	}
}
