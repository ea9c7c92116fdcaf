package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/siteinventory/spdash/internal/inventory"
	"github.com/siteinventory/spdash/internal/model"
)

const timeFormat = "2006-01-02 15:04:05"

// MemoryPath keeps the database in process memory.
const MemoryPath = ":memory:"

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database at the given path and runs migrations.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	if dbPath == MemoryPath {
		dsn = dbPath + "?_pragma=foreign_keys(on)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == MemoryPath {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for migration inspection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, last_seen_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.ID, formatTime(sess.CreatedAt), formatTime(sess.LastSeenAt), formatTime(sess.ExpiresAt))
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	var createdAt, lastSeenAt, expiresAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, last_seen_at, expires_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &createdAt, &lastSeenAt, &expiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.LastSeenAt = parseTime(lastSeenAt)
	sess.ExpiresAt = parseTime(expiresAt)
	return &sess, nil
}

func (s *SQLiteStore) TouchSession(ctx context.Context, id string, seenAt, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = ?, expires_at = ? WHERE id = ?`,
		formatTime(seenAt), formatTime(expiresAt), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteExpiredSessions removes sessions whose expiry is at or before now.
// Their datasets go with them through the foreign key cascade.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Datasets ---

// ReplaceDataset stores ds as the session's only dataset, dropping whatever
// was there before in the same transaction.
func (s *SQLiteStore) ReplaceDataset(ctx context.Context, ds *model.Dataset) error {
	headersJSON, err := json.Marshal(ds.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	records := make([][]string, len(ds.Rows))
	for i, r := range ds.Rows {
		records[i] = r.Fields()
	}
	rowsJSON, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	rolesJSON, err := json.Marshal(ds.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE session_id = ?`, ds.SessionID); err != nil {
		return fmt.Errorf("delete previous dataset for session %s: %w", ds.SessionID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (session_id, id, name, sha256, headers, row_data, roles, row_count, loaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.SessionID, ds.ID, ds.Name, ds.SHA256, string(headersJSON), string(rowsJSON),
		string(rolesJSON), len(ds.Rows), formatTime(ds.LoadedAt)); err != nil {
		return fmt.Errorf("insert dataset %s: %w", ds.ID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetDataset(ctx context.Context, sessionID string) (*model.Dataset, error) {
	var ds model.Dataset
	var headersJSON, rowsJSON, rolesJSON, loadedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, id, name, sha256, headers, row_data, roles, loaded_at FROM datasets WHERE session_id = ?`,
		sessionID).Scan(&ds.SessionID, &ds.ID, &ds.Name, &ds.SHA256, &headersJSON, &rowsJSON, &rolesJSON, &loadedAt)
	if err != nil {
		return nil, notFound(err)
	}

	if err := json.Unmarshal([]byte(headersJSON), &ds.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	var records [][]string
	if err := json.Unmarshal([]byte(rowsJSON), &records); err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	if err := json.Unmarshal([]byte(rolesJSON), &ds.Roles); err != nil {
		ds.Roles = inventory.InferRoles(ds.Headers)
	}

	ds.Rows = make([]model.Row, len(records))
	for i, rec := range records {
		values := make(map[string]string, len(ds.Headers))
		for j, h := range ds.Headers {
			if j < len(rec) {
				values[h] = rec[j]
			}
		}
		ds.Rows[i] = model.Row{Headers: ds.Headers, Values: values}
	}
	ds.LoadedAt = parseTime(loadedAt)
	return &ds, nil
}

func (s *SQLiteStore) DatasetID(ctx context.Context, sessionID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM datasets WHERE session_id = ?`, sessionID).Scan(&id)
	if err != nil {
		return "", notFound(err)
	}
	return id, nil
}

func (s *SQLiteStore) DeleteDataset(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE session_id = ?`, sessionID)
	return err
}

// Stats counts sessions, datasets and stored rows.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM sessions), (SELECT COUNT(*) FROM datasets), (SELECT COALESCE(SUM(row_count), 0) FROM datasets)`).
		Scan(&st.Sessions, &st.Datasets, &st.Rows)
	return st, err
}
