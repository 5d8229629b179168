package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free file backend (snapshot json + jsonl log)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscriber is one user's persisted subscription record.
// Keep it compact and schema-stable; it round-trips through the snapshot.
type Subscriber struct {
	Groups      []string `json:"groups"`
	MutedGroups []string `json:"muted_groups"`
}

// MessageRecord is one forwarded message.
// Destination is "DIRECT" for direct messages, the group name otherwise.
type MessageRecord struct {
	At          time.Time `json:"at"`
	Sender      string    `json:"sender"`
	Destination string    `json:"destination"`
	Text        string    `json:"text"`
}

// Store is the persistence API used by the registry, dispatcher and stats.
type Store interface {
	// LoadSubscribers returns the full subscription snapshot.
	// A missing snapshot is not an error; it returns an empty map.
	LoadSubscribers(ctx context.Context) (map[string]Subscriber, error)
	// SaveSubscribers replaces the full subscription snapshot.
	SaveSubscribers(ctx context.Context, subs map[string]Subscriber) error

	AppendMessage(ctx context.Context, rec MessageRecord) error
	// RecentMessages returns up to limit records, newest first.
	RecentMessages(ctx context.Context, limit int) ([]MessageRecord, error)

	// RecordUserCount upserts the subscriber count for date ("YYYY-MM-DD").
	RecordUserCount(ctx context.Context, date string, count int) error
	UserCountOn(ctx context.Context, date string) (count int, ok bool, err error)
	// AvgUserCountForMonth averages daily counts for month ("YYYY-MM").
	AvgUserCountForMonth(ctx context.Context, month string) (avg float64, ok bool, err error)

	Close() error
}
