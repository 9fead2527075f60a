package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const DefaultSQLiteDSN = "file:netgauge-history?mode=memory&cache=shared"

const schema = `CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	run_id TEXT NOT NULL,
	ping_ms REAL NOT NULL,
	download_mbps REAL NOT NULL,
	upload_mbps REAL NOT NULL
)`

type SQLite struct {
	db    *sql.DB
	clock clock
}

func OpenSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history: %w", err)
	}
	// A shared-cache memory database lives only while a connection is open.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	s := &SQLite{db: db}
	var last sql.NullInt64
	if err := db.QueryRow("SELECT MAX(ts) FROM snapshots").Scan(&last); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read last snapshot: %w", err)
	}
	if last.Valid {
		s.clock.observe(time.Unix(0, last.Int64))
	}
	return s, nil
}

func (s *SQLite) Append(ctx context.Context, snap Snapshot) error {
	ts := s.clock.next(snap.Timestamp)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO snapshots (ts, run_id, ping_ms, download_mbps, upload_mbps) VALUES (?, ?, ?, ?, ?)",
		ts.UnixNano(), snap.RunID, snap.PingMs, snap.DownloadMBps, snap.UploadMBps)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) All(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts, run_id, ping_ms, download_mbps, upload_mbps FROM snapshots ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var ts int64
		var snap Snapshot
		if err := rows.Scan(&ts, &snap.RunID, &snap.PingMs, &snap.DownloadMBps, &snap.UploadMBps); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Timestamp = time.Unix(0, ts)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
