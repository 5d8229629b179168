// Package telegram adapts the Telegram Bot API to the transport interface.
// Recipient identifiers are decimal chat ids.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "js8bridge/internal/runtime/supervisor"
	"js8bridge/internal/transport"
	logx "js8bridge/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	// out holds the current update channel; handlers read it lock-free so a
	// Stop/Start cycle can swap it under a live poller.
	out atomic.Value // chan<- transport.Update

	// droppedUpdates counts inbound updates lost to a full channel; reported
	// in one periodic summary line instead of per update.
	droppedUpdates uint64

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	running bool
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	a := &Adapter{log: log, bot: bot}
	var unset chan<- transport.Update
	a.out.Store(unset)

	bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(transport.Update{Message: &transport.Message{
			From:     strconv.FormatInt(m.Chat.ID, 10),
			Username: m.Sender.Username,
			Text:     m.Text,
		}})
		return nil
	})
	return a, nil
}

func (a *Adapter) sendUpdate(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) reportDrops(capacity int) {
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)",
			logx.Int64("count", int64(n)), logx.Int("chan_cap", capacity))
	}
}

// Start begins long polling and forwards text messages to out. It returns
// immediately; the poll loop runs under an internal supervisor.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	sup := rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	a.sup = sup
	a.mu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})

	// telebot's Start blocks until Stop; pair it with a watcher goroutine so
	// context cancellation unblocks it.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop halts polling. It waits briefly for the poll loop but never blocks
// shutdown on a pending long poll.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var unset chan<- transport.Update
	a.out.Store(unset)
	a.mu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

// textLimit stays under Telegram's 4096-character message cap.
const textLimit = 4000

func (a *Adapter) SendText(ctx context.Context, to string, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil {
		return errors.New("telegram: invalid recipient id " + strconv.Quote(to))
	}
	rcpt := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := a.bot.Send(rcpt, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitText chunks long messages, breaking at a newline when one falls in
// the final third of the chunk.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			if nl := lastNewline(rs[start:end]); nl >= limit/3 {
				end = start + nl + 1
			}
		}
		out = append(out, string(rs[start:end]))
		start = end
	}
	return out
}

func lastNewline(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}
