package radio

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrLinkClosed is returned by ReadLines when the peer closed the connection.
var ErrLinkClosed = errors.New("radio link closed")

// Event is one decoded line from the radio application's JSON stream.
// Only the fields the bridge acts on are decoded; everything else is ignored.
type Event struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// EventTypeDirected is the only event kind the bridge forwards.
const EventTypeDirected = "RX.DIRECTED"

// Link owns the TCP connection to the radio endpoint and yields complete
// text lines. A trailing partial line from one read is kept and prepended to
// the next read, so a line straddling a read boundary is reassembled intact.
type Link struct {
	addr    string
	readBuf int

	mu   sync.Mutex
	conn net.Conn
	rest []byte
}

func NewLink(host string, port int, readBuf int) *Link {
	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 2442
	}
	if readBuf <= 0 {
		readBuf = 4096
	}
	return &Link{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		readBuf: readBuf,
	}
}

func (l *Link) Addr() string { return l.addr }

func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Connect dials the radio endpoint. On failure the link stays disconnected;
// the caller controls backoff.
func (l *Link) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.conn = conn
	l.rest = nil
	l.mu.Unlock()
	return nil
}

// Close drops the connection and discards any buffered partial line.
func (l *Link) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.rest = nil
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// ReadLines blocks up to wait for incoming bytes and returns the complete
// lines received so far. A read timeout returns (nil, nil) so the owning loop
// can observe cancellation between polls. A peer close or read error returns
// ErrLinkClosed / the error, after which the link is disconnected.
func (l *Link) ReadLines(wait time.Duration) ([]string, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return nil, ErrLinkClosed
	}

	if wait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(wait))
	}
	buf := make([]byte, l.readBuf)
	n, err := conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, ErrLinkClosed
	}

	l.mu.Lock()
	lines, rest := splitLines(l.rest, buf[:n])
	l.rest = rest
	l.mu.Unlock()
	return lines, nil
}

// splitLines appends chunk to the carried-over partial segment and splits on
// newline. The last segment (no trailing newline yet) is returned as the new
// carry-over. Empty lines are dropped.
func splitLines(rest, chunk []byte) (lines []string, newRest []byte) {
	data := append(append([]byte(nil), rest...), chunk...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
		data = data[i+1:]
	}
	if len(data) > 0 {
		newRest = data
	}
	return lines, newRest
}
