package radio

import (
	"reflect"
	"testing"
)

func TestSplitLinesCarriesPartial(t *testing.T) {
	lines, rest := splitLines(nil, []byte("{\"type\":\"RX.DIRECTED\"}\n{\"type\":"))
	if want := []string{`{"type":"RX.DIRECTED"}`}; !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	if string(rest) != `{"type":` {
		t.Fatalf("rest = %q", rest)
	}

	lines, rest = splitLines(rest, []byte("\"PING\"}\n"))
	if want := []string{`{"type":"PING"}`}; !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	if rest != nil {
		t.Fatalf("rest = %q, want empty", rest)
	}
}

func TestSplitLinesDropsBlankAndCR(t *testing.T) {
	lines, rest := splitLines(nil, []byte("one\r\n\r\n\ntwo\n"))
	if want := []string{"one", "two"}; !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	if rest != nil {
		t.Fatalf("rest = %q, want empty", rest)
	}
}

func TestSplitLinesNoNewline(t *testing.T) {
	lines, rest := splitLines(nil, []byte("partial"))
	if lines != nil {
		t.Fatalf("lines = %v, want none", lines)
	}
	if string(rest) != "partial" {
		t.Fatalf("rest = %q", rest)
	}
}

func TestNewLinkDefaults(t *testing.T) {
	l := NewLink("", 0, 0)
	if l.Addr() != "localhost:2442" {
		t.Fatalf("addr = %q", l.Addr())
	}
	l = NewLink("radio.local", 9000, 128)
	if l.Addr() != "radio.local:9000" {
		t.Fatalf("addr = %q", l.Addr())
	}
}

func TestReadLinesDisconnected(t *testing.T) {
	l := NewLink("localhost", 2442, 0)
	if _, err := l.ReadLines(0); err != ErrLinkClosed {
		t.Fatalf("err = %v, want ErrLinkClosed", err)
	}
}
