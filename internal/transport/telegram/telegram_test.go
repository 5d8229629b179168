package telegram

import (
	"strings"
	"testing"

	"js8bridge/internal/transport"
)

func TestSplitTextShort(t *testing.T) {
	got := splitText("hello", 4000)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTextChunksAtLimit(t *testing.T) {
	s := strings.Repeat("a", 250)
	got := splitText(s, 100)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if joined := strings.Join(got, ""); joined != s {
		t.Fatalf("chunks do not reassemble input")
	}
	for i, c := range got {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("x", 60) + "\n" + strings.Repeat("y", 60)
	got := splitText(s, 100)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if !strings.HasSuffix(got[0], "\n") {
		t.Fatalf("first chunk does not end at newline: %q", got[0])
	}
	if joined := strings.Join(got, ""); joined != s {
		t.Fatalf("chunks do not reassemble input")
	}
}

func TestSplitTextMultibyte(t *testing.T) {
	s := strings.Repeat("ü", 150)
	got := splitText(s, 100)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if joined := strings.Join(got, ""); joined != s {
		t.Fatalf("chunks do not reassemble input")
	}
}

func TestSendUpdateWithoutChannel(t *testing.T) {
	a := &Adapter{}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)

	// no channel installed: the update is dropped, not a panic
	a.sendUpdate(transport.Update{Message: &transport.Message{From: "1", Text: "hi"}})

	out := make(chan transport.Update, 1)
	a.out.Store((chan<- transport.Update)(out))
	a.sendUpdate(transport.Update{Message: &transport.Message{From: "1", Text: "hi"}})
	select {
	case up := <-out:
		if up.Message == nil || up.Message.From != "1" {
			t.Fatalf("update = %+v", up)
		}
	default:
		t.Fatalf("update not forwarded")
	}

	// full channel increments the drop counter instead of blocking
	a.sendUpdate(transport.Update{Message: &transport.Message{From: "1", Text: "a"}})
	a.sendUpdate(transport.Update{Message: &transport.Message{From: "1", Text: "b"}})
	if a.droppedUpdates != 1 {
		t.Fatalf("droppedUpdates = %d, want 1", a.droppedUpdates)
	}
}
