package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/zkhotdog/pkg/measurement"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records as JSON documents in a SQLite table. Opened
// through OpenMemory the database lives only as long as the process.
type SQLiteStore struct {
	db *sql.DB
}

// OpenMemory opens a private in-memory database. A single connection is
// kept so every statement sees the same database and transactions
// serialize.
func OpenMemory(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS measurements (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		doc JSON NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate measurements: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, m measurement.Measurement) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode measurement %s: %w", m.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements (id, status, doc, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		m.ID, m.Status.String(), string(doc), m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert measurement %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert measurement %s: %w", m.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", m.ID, ErrAlreadyExists)
	}
	return nil
}

func (s *SQLiteStore) Snapshot(ctx context.Context, id string) (measurement.Measurement, error) {
	return loadDoc(s.db.QueryRowContext(ctx, `SELECT doc FROM measurements WHERE id = ?`, id), id)
}

// Mutate loads, modifies and rewrites the record inside one transaction.
func (s *SQLiteStore) Mutate(ctx context.Context, id string, fn func(*measurement.Measurement) error) (measurement.Measurement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return measurement.Measurement{}, fmt.Errorf("begin mutate %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := loadDoc(tx.QueryRowContext(ctx, `SELECT doc FROM measurements WHERE id = ?`, id), id)
	if err != nil {
		return measurement.Measurement{}, err
	}
	work := cur.Clone()
	if err := fn(&work); err != nil {
		return cur, err
	}
	if err := checkCommit(id, cur, work); err != nil {
		return cur, err
	}

	doc, err := json.Marshal(work)
	if err != nil {
		return cur, fmt.Errorf("encode measurement %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE measurements SET status = ?, doc = ?, updated_at = ? WHERE id = ?`,
		work.Status.String(), string(doc), work.UpdatedAt.UTC().Format(time.RFC3339Nano), id,
	); err != nil {
		return cur, fmt.Errorf("update measurement %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return cur, fmt.Errorf("commit measurement %s: %w", id, err)
	}
	return work, nil
}

// Len returns the number of records, or 0 if the count cannot be read.
func (s *SQLiteStore) Len() int {
	var n int
	if err := s.db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM measurements`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func loadDoc(row *sql.Row, id string) (measurement.Measurement, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return measurement.Measurement{}, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return measurement.Measurement{}, fmt.Errorf("load measurement %s: %w", id, err)
	}
	var m measurement.Measurement
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return measurement.Measurement{}, fmt.Errorf("decode measurement %s: %w", id, err)
	}
	return m, nil
}
