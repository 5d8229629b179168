package radio

import (
	"context"
	"encoding/json"
	"time"

	logx "js8bridge/pkg/logx"
)

// Handler receives each decoded radio event in arrival order.
type Handler func(ctx context.Context, ev Event)

// Loop drives the link for the process lifetime: connect, read, decode,
// reconnect on failure. It runs under the app supervisor; cancellation is
// honored at every poll interval and closes the underlying connection.
type Loop struct {
	link    *Link
	poll    time.Duration
	backoff time.Duration
	handle  Handler
	log     logx.Logger
}

func NewLoop(link *Link, poll, backoff time.Duration, handle Handler, log logx.Logger) *Loop {
	if poll <= 0 {
		poll = time.Second
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{link: link, poll: poll, backoff: backoff, handle: handle, log: log}
}

// Run blocks until ctx is canceled. Connect and read failures are recovered
// locally with a fixed backoff; they are never returned to the caller.
func (lp *Loop) Run(ctx context.Context) error {
	defer func() { _ = lp.link.Close() }()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !lp.link.Connected() {
			lp.log.Info("connecting to radio endpoint", logx.String("addr", lp.link.Addr()))
			if err := lp.link.Connect(ctx); err != nil {
				lp.log.Error("radio connect failed", logx.String("addr", lp.link.Addr()), logx.Err(err))
				if !sleep(ctx, lp.backoff) {
					return ctx.Err()
				}
				continue
			}
			lp.log.Info("connected to radio endpoint", logx.String("addr", lp.link.Addr()))
		}

		// ReadLines suspends up to one poll interval, so cancellation is
		// observed at least that often.
		lines, err := lp.link.ReadLines(lp.poll)
		if err != nil {
			lp.log.Warn("radio link lost", logx.Err(err))
			_ = lp.link.Close()
			if !sleep(ctx, lp.backoff) {
				return ctx.Err()
			}
			continue
		}

		// Lines from a single link are handled in order; the next read does
		// not start until every decoded event has been dispatched.
		for _, line := range lines {
			var ev Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				lp.log.Error("failed to parse radio message", logx.Err(err))
				continue
			}
			if lp.handle != nil {
				lp.handle(ctx, ev)
			}
		}
	}
}

// sleep waits d or until ctx is canceled; it reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
