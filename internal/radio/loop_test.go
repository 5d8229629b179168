package radio

import (
	"context"
	"net"
	"testing"
	"time"

	logx "js8bridge/pkg/logx"
)

// startServer listens on a loopback port and writes payload to the first
// connection.
func startServer(t *testing.T, payload string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte(payload))
		// keep the connection open; the loop's read deadline handles pacing
		time.Sleep(2 * time.Second)
		_ = conn.Close()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestLoopDeliversEventsSkippingMalformed(t *testing.T) {
	payload := "{\"type\":\"RX.DIRECTED\",\"value\":\"N0CALL: hello\"}\n" +
		"not json at all\n" +
		"{\"type\":\"RX.DIRECTED\",\"value\":\"N0CALL: world\"}\n"
	host, port := startServer(t, payload)

	events := make(chan Event, 8)
	link := NewLink(host, port, 64)
	loop := NewLoop(link, 50*time.Millisecond, 50*time.Millisecond, func(ctx context.Context, ev Event) {
		events <- ev
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()

	want := []string{"N0CALL: hello", "N0CALL: world"}
	for i, w := range want {
		select {
		case ev := <-events:
			if ev.Type != EventTypeDirected || ev.Value != w {
				t.Fatalf("event %d = %+v, want value %q", i, ev, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("loop did not stop on cancel")
	}
}

func TestLoopStopsWhileDisconnected(t *testing.T) {
	// Port from a closed listener: connects fail, the loop sits in backoff.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	link := NewLink("127.0.0.1", port, 64)
	loop := NewLoop(link, 50*time.Millisecond, 10*time.Second, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("loop did not stop during reconnect backoff")
	}
}
