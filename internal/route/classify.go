package route

import (
	"strings"
	"sync"

	"js8bridge/internal/radio"
	logx "js8bridge/pkg/logx"
)

type Scope int

const (
	ScopeDirect Scope = iota
	ScopeGroup
	ScopeUrgent
)

// Message is one radio event resolved to a delivery scope.
type Message struct {
	Sender string
	Scope  Scope
	Group  string // empty for direct messages
	Body   string
}

// Destination is the history label: "DIRECT" or the group name.
func (m Message) Destination() string {
	if m.Scope == ScopeDirect {
		return "DIRECT"
	}
	return m.Group
}

// Render produces the subscriber-facing text.
func (m Message) Render() string {
	switch m.Scope {
	case ScopeGroup:
		return "Group message from " + m.Sender + " to " + m.Group + ": " + m.Body
	case ScopeUrgent:
		return "URGENT message from " + m.Sender + " to " + m.Group + ": " + m.Body
	default:
		return "Direct message from " + m.Sender + ": " + m.Body
	}
}

type Config struct {
	Groups       []string
	UrgentGroups []string
	BlockedWords []string
}

// Classifier turns decoded radio events into routed messages, or drops them.
// It does no I/O; catalogs and the blocked-word list are swappable at runtime.
type Classifier struct {
	mu  sync.RWMutex
	cfg Config
	log logx.Logger
}

func NewClassifier(cfg Config, log logx.Logger) *Classifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Classifier{cfg: cfg, log: log}
}

func (c *Classifier) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Classify returns (msg, true) for a forwardable event.
//
// Group resolution is a plain prefix match in catalog order, ordinary groups
// before urgent ones, first match wins. There is no word-boundary check: a
// group named "A" also matches content starting with "ABC". This matches the
// radio application's convention of leading group tags.
func (c *Classifier) Classify(ev radio.Event) (Message, bool) {
	if ev.Type != radio.EventTypeDirected {
		return Message{}, false
	}

	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	idx := strings.Index(ev.Value, ":")
	if idx < 0 {
		c.log.Warn("invalid directed message format", logx.String("value", ev.Value))
		return Message{}, false
	}
	sender := strings.TrimSpace(ev.Value[:idx])
	content := strings.TrimSpace(ev.Value[idx+1:])

	if word, ok := matchBlocked(content, cfg.BlockedWords); ok {
		c.log.Info("message contains blocked word; dropping", logx.String("sender", sender), logx.String("word", word))
		return Message{}, false
	}

	for _, g := range cfg.Groups {
		if g != "" && strings.HasPrefix(content, g) {
			return Message{
				Sender: sender,
				Scope:  ScopeGroup,
				Group:  g,
				Body:   strings.TrimSpace(content[len(g):]),
			}, true
		}
	}
	for _, g := range cfg.UrgentGroups {
		if g != "" && strings.HasPrefix(content, g) {
			return Message{
				Sender: sender,
				Scope:  ScopeUrgent,
				Group:  g,
				Body:   strings.TrimSpace(content[len(g):]),
			}, true
		}
	}
	return Message{Sender: sender, Scope: ScopeDirect, Body: content}, true
}

func matchBlocked(content string, words []string) (string, bool) {
	if len(words) == 0 {
		return "", false
	}
	lc := strings.ToLower(content)
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if strings.Contains(lc, strings.ToLower(w)) {
			return w, true
		}
	}
	return "", false
}
