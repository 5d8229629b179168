package stats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"js8bridge/internal/registry"
	"js8bridge/internal/storage"
	logx "js8bridge/pkg/logx"
)

type Config struct {
	Enabled bool
	// SnapshotCron is a 5-field cron spec; empty means midnight.
	SnapshotCron string
	Timezone     string
}

// Info is the operator-provided detail shown by /info.
type Info struct {
	Location string
	Operator string
}

// Service records a daily subscriber-count snapshot and renders the
// /showlog, /stats and /info reports.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	info Info

	store storage.Store
	reg   *registry.Registry
	log   logx.Logger

	c         *cron.Cron
	startTime time.Time
}

func New(cfg Config, info Info, store storage.Store, reg *registry.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		info:      info,
		store:     store,
		reg:       reg,
		log:       log,
		startTime: time.Now(),
	}
}

// Apply swaps the /info detail at runtime.
func (s *Service) Apply(info Info) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

// Start registers the daily snapshot job. No-op when disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("stats.timezone: %w", err)
		}
		loc = l
	}

	spec := strings.TrimSpace(s.cfg.SnapshotCron)
	if spec == "" {
		spec = "0 0 * * *"
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() { s.snapshot(ctx, loc) }); err != nil {
		return fmt.Errorf("stats.snapshot_cron: %w", err)
	}
	c.Start()
	s.c = c
	s.log.Info("stats snapshot scheduled", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
}

func (s *Service) snapshot(ctx context.Context, loc *time.Location) {
	date := time.Now().In(loc).Format("2006-01-02")
	count := s.reg.Count()
	if err := s.store.RecordUserCount(ctx, date, count); err != nil {
		s.log.Error("stats snapshot failed", logx.String("date", date), logx.Err(err))
		return
	}
	s.log.Debug("stats snapshot recorded", logx.String("date", date), logx.Int("users", count))
}

const logMaxMessages = 50

// RenderLog returns the last n forwarded messages, oldest first.
func (s *Service) RenderLog(ctx context.Context, n int) (string, error) {
	if n <= 0 {
		n = 10
	}
	if n > logMaxMessages {
		n = logMaxMessages
	}
	recs, err := s.store.RecentMessages(ctx, n)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d messages:\n\n", len(recs))
	// RecentMessages is newest-first; render oldest-first.
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		fmt.Fprintf(&b, "[%s] From %s to %s: %s\n\n",
			rec.At.Format("2006-01-02 15:04:05"), rec.Sender, rec.Destination, rec.Text)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// RenderStats returns the current subscriber count plus, for period "day" or
// "month", the recorded snapshot figures.
func (s *Service) RenderStats(ctx context.Context, period string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Current users: %d\n", s.reg.Count())

	switch period {
	case "day":
		date := time.Now().Format("2006-01-02")
		n, ok, err := s.store.UserCountOn(ctx, date)
		if err != nil {
			return "", err
		}
		if ok {
			fmt.Fprintf(&b, "Users today: %d\n", n)
		} else {
			b.WriteString("No data for today\n")
		}
	case "month":
		month := time.Now().Format("2006-01")
		avg, ok, err := s.store.AvgUserCountForMonth(ctx, month)
		if err != nil {
			return "", err
		}
		if ok {
			fmt.Fprintf(&b, "Average users this month: %.2f\n", avg)
		} else {
			b.WriteString("No data for this month\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// RenderInfo returns uptime and the configured node detail.
func (s *Service) RenderInfo() string {
	s.mu.Lock()
	info := s.info
	s.mu.Unlock()

	uptime := time.Since(s.startTime).Round(time.Second)
	var b strings.Builder
	fmt.Fprintf(&b, "Bot uptime: %s\n", uptime)
	if info.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", info.Location)
	}
	if info.Operator != "" {
		fmt.Fprintf(&b, "Node operator: %s\n", info.Operator)
	}
	if info.Location == "" && info.Operator == "" {
		b.WriteString("No additional info available")
	}
	return strings.TrimRight(b.String(), "\n")
}
