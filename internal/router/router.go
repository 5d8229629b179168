package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"js8bridge/internal/transport"
	logx "js8bridge/pkg/logx"
)

// Request is one subscriber command in flight.
type Request struct {
	From     string
	Username string
	Command  string
	Args     []string
}

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.String("from", req.From),
				logx.String("cmd", req.Command),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("command ok", fields...)
			}
			return err
		}
	}
}

// Command is one table entry. The table is built once at startup; there is no
// dynamic registration.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handle      HandlerFunc
}

// Router consumes transport updates, applies the per-user rate limit, and
// dispatches slash commands through the middleware chain.
type Router struct {
	cmds  map[string]Command
	order []string

	send transport.Adapter
	log  logx.Logger

	chain []Middleware

	// per-user command limiters (the original bot's rate_limit/cooldown)
	limMu     sync.Mutex
	lims      map[string]*rate.Limiter
	rateLimit int
	cooldown  time.Duration
}

func New(send transport.Adapter, log logx.Logger, rateLimit int, cooldown time.Duration) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if rateLimit <= 0 {
		rateLimit = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	r := &Router{
		cmds:      map[string]Command{},
		send:      send,
		log:       log,
		lims:      map[string]*rate.Limiter{},
		rateLimit: rateLimit,
		cooldown:  cooldown,
	}
	r.chain = []Middleware{
		MWPanicRecover(log),
		MWRequestLog(log),
	}
	return r
}

// Register adds commands to the table. Call once during startup, before Run.
func (r *Router) Register(cmds ...Command) {
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := r.cmds[name]; dup {
			r.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		c.Name = name
		r.cmds[name] = c
		r.order = append(r.order, name)
	}
}

// Apply swaps the per-user rate limit at runtime. Existing buckets are reset.
func (r *Router) Apply(rateLimit int, cooldown time.Duration) {
	if rateLimit <= 0 {
		rateLimit = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	r.limMu.Lock()
	r.rateLimit = rateLimit
	r.cooldown = cooldown
	r.lims = map[string]*rate.Limiter{}
	r.limMu.Unlock()
}

func (r *Router) allow(user string) bool {
	r.limMu.Lock()
	defer r.limMu.Unlock()
	lim := r.lims[user]
	if lim == nil {
		lim = rate.NewLimiter(rate.Limit(float64(r.rateLimit)/r.cooldown.Seconds()), r.rateLimit)
		r.lims[user] = lim
	}
	return lim.Allow()
}

// Run consumes updates until ctx is canceled or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if up.Message == nil {
				continue
			}
			r.handle(ctx, up.Message)
		}
	}
}

func (r *Router) handle(ctx context.Context, m *transport.Message) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		r.log.Debug("non-command message ignored", logx.String("from", m.From))
		return
	}

	if !r.allow(m.From) {
		// Dropped, not answered: a reply would defeat the limit.
		r.log.Warn("command rate limited", logx.String("from", m.From))
		return
	}

	parts := strings.Fields(text[1:])
	if len(parts) == 0 {
		return
	}
	name := strings.ToLower(parts[0])

	cmd, ok := r.cmds[name]
	if !ok {
		r.reply(ctx, m.From, "Unknown command. Use /help to list available commands.")
		return
	}

	req := &Request{
		From:     m.From,
		Username: m.Username,
		Command:  name,
		Args:     parts[1:],
	}
	h := Chain(cmd.Handle, r.chain...)
	_ = h(ctx, req)
}

func (r *Router) reply(ctx context.Context, to, text string) {
	if err := r.send.SendText(ctx, to, text); err != nil {
		r.log.Warn("reply send failed", logx.String("to", to), logx.Err(err))
	}
}
