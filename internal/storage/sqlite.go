package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "js8bridge/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./js8bridge.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSubscribers(ctx context.Context) (map[string]Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user, groups, muted_groups FROM subscribers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Subscriber{}
	for rows.Next() {
		var user, groups, muted string
		if err := rows.Scan(&user, &groups, &muted); err != nil {
			return nil, err
		}
		var rec Subscriber
		if err := json.Unmarshal([]byte(groups), &rec.Groups); err != nil {
			s.log.Warn("corrupt groups entry; skipping", logx.String("user", user), logx.Err(err))
			continue
		}
		if err := json.Unmarshal([]byte(muted), &rec.MutedGroups); err != nil {
			s.log.Warn("corrupt muted_groups entry; skipping", logx.String("user", user), logx.Err(err))
			continue
		}
		out[user] = rec
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSubscribers(ctx context.Context, subs map[string]Subscriber) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers`); err != nil {
		return err
	}
	for user, rec := range subs {
		groups, err := json.Marshal(emptyIfNil(rec.Groups))
		if err != nil {
			return err
		}
		muted, err := json.Marshal(emptyIfNil(rec.MutedGroups))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscribers(user, groups, muted_groups) VALUES(?,?,?)`,
			user, string(groups), string(muted),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendMessage(ctx context.Context, rec MessageRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(at, sender, destination, message) VALUES(?,?,?,?)`,
		rec.At.Format(time.RFC3339Nano), rec.Sender, rec.Destination, rec.Text,
	)
	return err
}

func (s *sqliteStore) RecentMessages(ctx context.Context, limit int) ([]MessageRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, sender, destination, message FROM messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var at string
		var rec MessageRecord
		if err := rows.Scan(&at, &rec.Sender, &rec.Destination, &rec.Text); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			rec.At = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecordUserCount(ctx context.Context, date string, count int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stats(date, user_count) VALUES(?,?)
		 ON CONFLICT(date) DO UPDATE SET user_count=excluded.user_count`,
		date, count,
	)
	return err
}

func (s *sqliteStore) UserCountOn(ctx context.Context, date string) (int, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT user_count FROM stats WHERE date = ?`, date).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (s *sqliteStore) AvgUserCountForMonth(ctx context.Context, month string) (float64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrDisabled
	}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(user_count) FROM stats WHERE date LIKE ?`, month+"%").Scan(&avg)
	if err != nil {
		return 0, false, err
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
