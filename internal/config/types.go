package config

type Config struct {
	Radio    RadioConfig    `json:"radio"`
	Bridge   BridgeConfig   `json:"bridge"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Stats    StatsConfig    `json:"stats,omitempty"`
}

// RadioConfig points the bridge at the radio application's TCP API.
//
// All durations are Go duration strings (e.g. "500ms", "5s").
//
// Defaults (when fields are omitted/zero):
//   - host: "localhost"
//   - port: 2442
//   - poll_interval: "1s"
//   - reconnect_backoff: "5s"
//   - read_buffer: 4096
type RadioConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// PollInterval is the sleep between read attempts while connected.
	PollInterval string `json:"poll_interval,omitempty"`
	// ReconnectBackoff is the wait after a failed connect or a lost link.
	ReconnectBackoff string `json:"reconnect_backoff,omitempty"`

	ReadBuffer int `json:"read_buffer,omitempty"`
}

// BridgeConfig carries the routing catalogs and subscriber-facing knobs.
//
// Groups and UrgentGroups are disjoint catalogs; a name's catalog decides the
// "Group" vs "URGENT" framing only. Catalog order matters: prefix matching
// picks the first matching name.
type BridgeConfig struct {
	Groups       []string `json:"groups,omitempty"`
	UrgentGroups []string `json:"urgent_groups,omitempty"`

	// DefaultGroups are seeded into a subscriber's membership on /add.
	DefaultGroups []string `json:"default_groups,omitempty"`

	// BlockedWords drop a radio message on case-insensitive substring match.
	BlockedWords []string `json:"blocked_words,omitempty"`

	// Shown by /info when set.
	Location string `json:"location,omitempty"`
	Operator string `json:"operator,omitempty"`

	// Per-user command rate limit: RateLimit commands per Cooldown window.
	// Defaults: 5 per "60s".
	RateLimit int    `json:"rate_limit,omitempty"`
	Cooldown  string `json:"cooldown,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free file backend (snapshot json + jsonl log)
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig controls the outbound fan-out pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - rate_per_sec: 10
type DispatchConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StatsConfig controls the daily subscriber-count snapshot.
type StatsConfig struct {
	Enabled bool `json:"enabled"`
	// SnapshotCron is a 5-field cron spec; default "0 0 * * *" (midnight).
	SnapshotCron string `json:"snapshot_cron,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}
