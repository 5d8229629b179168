package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "js8bridge/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.subscribers.json (whole-state snapshot, atomic rename)
//   - <prefix>.messages.jsonl   (append-only JSON Lines)
//   - <prefix>.stats.json       (date -> user count snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	subsPath  string
	statsPath string

	msgPath string
	msgFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	msgPath := prefix + ".messages.jsonl"
	mf, err := os.OpenFile(msgPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:       log,
		subsPath:  prefix + ".subscribers.json",
		statsPath: prefix + ".stats.json",
		msgPath:   msgPath,
		msgFile:   mf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgFile != nil {
		err := s.msgFile.Close()
		s.msgFile = nil
		return err
	}
	return nil
}

func (s *fileStore) LoadSubscribers(ctx context.Context) (map[string]Subscriber, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]Subscriber{}
	b, err := os.ReadFile(s.subsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fileStore) SaveSubscribers(ctx context.Context, subs map[string]Subscriber) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.subsPath, subs)
}

func (s *fileStore) AppendMessage(ctx context.Context, rec MessageRecord) error {
	_ = ctx
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgFile == nil {
		return errors.New("message log closed")
	}
	return json.NewEncoder(s.msgFile).Encode(rec)
}

func (s *fileStore) RecentMessages(ctx context.Context, limit int) ([]MessageRecord, error) {
	_ = ctx
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.msgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	// The log is small (operator history); read it all and keep the tail.
	var all []MessageRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec MessageRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		all = append(all, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	// newest first, matching the sqlite driver
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (s *fileStore) RecordUserCount(ctx context.Context, date string, count int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readStatsLocked()
	if err != nil {
		return err
	}
	m[date] = count
	return writeJSONAtomic(s.statsPath, m)
}

func (s *fileStore) UserCountOn(ctx context.Context, date string) (int, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readStatsLocked()
	if err != nil {
		return 0, false, err
	}
	n, ok := m[date]
	return n, ok, nil
}

func (s *fileStore) AvgUserCountForMonth(ctx context.Context, month string) (float64, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readStatsLocked()
	if err != nil {
		return 0, false, err
	}
	sum, n := 0, 0
	for date, count := range m {
		if strings.HasPrefix(date, month) {
			sum += count
			n++
		}
	}
	if n == 0 {
		return 0, false, nil
	}
	return float64(sum) / float64(n), true, nil
}

func (s *fileStore) readStatsLocked() (map[string]int, error) {
	m := map[string]int{}
	b, err := os.ReadFile(s.statsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
