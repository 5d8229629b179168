package storage

import (
	"fmt"
	"strings"

	logx "js8bridge/pkg/logx"
)

// Open builds the store named by cfg.Driver. An empty driver selects sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", d)
	}
}
