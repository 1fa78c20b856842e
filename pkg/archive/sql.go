package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	defaultDBMaxOpenConns    = 10
	defaultDBConnMaxLifetime = 30 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
)

// SQLStore keeps records as JSON bodies in a single table.
type SQLStore struct {
	db     *sql.DB
	put    string
	get    string
	driver string
}

const createTable = `CREATE TABLE IF NOT EXISTS batch_archive (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	body TEXT NOT NULL,
	archived_at TIMESTAMP NOT NULL
)`

// NewSQLiteStore opens (and creates) a SQLite archive at path with WAL enabled.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("archive: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return newSQLStore(db, "sqlite",
		`INSERT INTO batch_archive (id, status, body, archived_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, body = excluded.body, archived_at = excluded.archived_at`,
		`SELECT body FROM batch_archive WHERE id = ?`,
	)
}

// NewPostgresStore connects to dsn through the pgx stdlib driver.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("archive: DATABASE_URL is required for the postgres store")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultDBMaxOpenConns)
	db.SetConnMaxLifetime(defaultDBConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), defaultDBPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return newSQLStore(db, "postgres",
		`INSERT INTO batch_archive (id, status, body, archived_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, body = EXCLUDED.body, archived_at = EXCLUDED.archived_at`,
		`SELECT body FROM batch_archive WHERE id = $1`,
	)
}

func newSQLStore(db *sql.DB, driver, put, get string) (*SQLStore, error) {
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive table: %w", err)
	}
	return &SQLStore{db: db, put: put, get: get, driver: driver}, nil
}

// Put upserts rec.
func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("archive: record id is required")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.put, rec.ID, rec.Status, string(body), time.Now().UTC()); err != nil {
		return fmt.Errorf("archive %s (%s): %w", rec.ID, s.driver, err)
	}
	return nil
}

// Get loads the record stored under id.
func (s *SQLStore) Get(ctx context.Context, id string) (Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.get, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load %s (%s): %w", id, s.driver, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
