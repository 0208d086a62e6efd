package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id          TEXT PRIMARY KEY,
		scenario        TEXT NOT NULL,
		job_name        TEXT NOT NULL,
		dispatch_status TEXT NOT NULL,
		dispatch_error  TEXT NOT NULL DEFAULT '',
		created_at      BIGINT NOT NULL,
		updated_at      BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs (created_at)`,
}

var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on database/sql. Timestamps are stored as unix
// milliseconds so both dialects share one schema.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported ledger dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.RunID) == "" {
		return errors.New("run id is required")
	}
	if entry.DispatchStatus == "" {
		entry.DispatchStatus = DispatchQueued
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO runs (run_id, scenario, job_name, dispatch_status, dispatch_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		entry.RunID, entry.Scenario, entry.JobName, entry.DispatchStatus, entry.DispatchError,
		entry.CreatedAt.UnixMilli(), entry.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLStore) MarkSubmitted(ctx context.Context, runID string, at time.Time) error {
	return s.setDispatch(ctx, runID, DispatchSubmitted, "", at)
}

func (s *SQLStore) MarkFailed(ctx context.Context, runID string, reason string, at time.Time) error {
	return s.setDispatch(ctx, runID, DispatchFailed, reason, at)
}

func (s *SQLStore) setDispatch(ctx context.Context, runID, status, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE runs SET dispatch_status = ?, dispatch_error = ?, updated_at = ? WHERE run_id = ?`),
		status, reason, at.UnixMilli(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, runID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT run_id, scenario, job_name, dispatch_status, dispatch_error, created_at, updated_at
		FROM runs WHERE run_id = ?`), runID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get run: %w", err)
	}
	return entry, nil
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT run_id, scenario, job_name, dispatch_status, dispatch_error, created_at, updated_at
		FROM runs ORDER BY created_at DESC, run_id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry     Entry
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&entry.RunID, &entry.Scenario, &entry.JobName, &entry.DispatchStatus,
		&entry.DispatchError, &createdAt, &updatedAt); err != nil {
		return Entry{}, err
	}
	entry.CreatedAt = time.UnixMilli(createdAt).UTC()
	entry.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return entry, nil
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
