package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"js8bridge/internal/registry"
	"js8bridge/internal/route"
	"js8bridge/internal/storage"
	logx "js8bridge/pkg/logx"
)

// Sender is the per-recipient delivery capability. transport.Adapter satisfies it.
type Sender interface {
	SendText(ctx context.Context, to string, text string) error
}

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

// task is one recipient's share of a dispatched message.
type task struct {
	recipient string
	text      string
	wg        *sync.WaitGroup
	failed    *atomic.Int64
}

// Dispatcher fans one routed message out to every eligible recipient through
// a bounded worker pool. Dispatch blocks until every delivery attempt for the
// message has finished, then records the message once; per-recipient failures
// are logged and isolated, never retried.
type Dispatcher struct {
	mu  sync.Mutex
	cfg Config

	adapter Sender
	reg     *registry.Registry
	store   storage.Store
	log     logx.Logger

	limiter *rate.Limiter
	queue   chan task

	stopCh   chan struct{}
	workerWG sync.WaitGroup
	runCtx   context.Context
}

func New(cfg Config, adapter Sender, reg *registry.Registry, store storage.Store, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	qs := cfg.QueueSize
	if qs <= 0 {
		qs = 256
	}
	return &Dispatcher{
		cfg:     cfg,
		adapter: adapter,
		reg:     reg,
		store:   store,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		queue:   make(chan task, qs),
	}
}

// Apply swaps the outbound rate limit at runtime.
// Note: live pool resizing is out of scope; worker count changes need a restart.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.RatePerSec = cfg.RatePerSec
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	d.limiter = rate.NewLimiter(rate.Limit(rps), rps)
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCh != nil {
		return
	}
	d.stopCh = make(chan struct{})
	d.runCtx = ctx

	workers := d.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	stopCh := d.stopCh
	d.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer d.workerWG.Done()
			d.worker(ctx, stopCh)
		}()
	}
	d.log.Debug("dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(d.queue)))
}

func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	stopCh := d.stopCh
	d.stopCh = nil
	d.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		d.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) worker(ctx context.Context, stopCh <-chan struct{}) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-d.queue:
			d.sendOne(ctx, t)
			t.wg.Done()
		}
	}
}

func (d *Dispatcher) sendOne(ctx context.Context, t task) {
	d.mu.Lock()
	lim := d.limiter
	d.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			t.failed.Add(1)
			return
		}
	}
	if err := d.adapter.SendText(ctx, t.recipient, t.text); err != nil {
		t.failed.Add(1)
		d.log.Warn("delivery failed", logx.String("recipient", t.recipient), logx.Err(err))
	}
}

// Dispatch resolves the eligible recipients, delivers concurrently, waits for
// every attempt, then writes exactly one history record. Recipient resolution
// happens here, per call; mute or membership changes between two dispatches
// change the recipient set.
func (d *Dispatcher) Dispatch(ctx context.Context, msg route.Message) {
	var recipients []string
	if msg.Scope == route.ScopeDirect {
		recipients = d.reg.DirectRecipients()
	} else {
		recipients = d.reg.GroupRecipients(msg.Group)
	}

	text := msg.Render()
	start := time.Now()

	var wg sync.WaitGroup
	var failed atomic.Int64
	for _, rcpt := range recipients {
		wg.Add(1)
		t := task{recipient: rcpt, text: text, wg: &wg, failed: &failed}
		select {
		case d.queue <- t:
		case <-ctx.Done():
			wg.Done()
		}
	}
	wg.Wait()

	fields := []logx.Field{
		logx.String("sender", msg.Sender),
		logx.String("destination", msg.Destination()),
		logx.Int("recipients", len(recipients)),
		logx.Duration("dur", time.Since(start)),
	}
	if n := failed.Load(); n > 0 {
		d.log.Warn("message forwarded with failures", append(fields, logx.Int64("failed", n))...)
	} else {
		d.log.Info("message forwarded", fields...)
	}

	// One history record per message, regardless of delivery outcomes.
	if d.store != nil {
		rec := storage.MessageRecord{
			At:          time.Now(),
			Sender:      msg.Sender,
			Destination: msg.Destination(),
			Text:        msg.Body,
		}
		if err := d.store.AppendMessage(ctx, rec); err != nil {
			d.log.Error("history append failed", logx.Err(err))
		}
	}
}
