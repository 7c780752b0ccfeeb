package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dontdude/codestream/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ExecutionStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.ExecutionStore = (*SQLiteStore)(nil)

// OpenSQLite creates or opens a SQLite database at path and runs migrations.
// Use ":memory:" for an in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: an in-memory database is per connection, and updates
	// must not interleave.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, e *domain.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, code, language, status, execution_time_ms, created_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Code, string(e.Language), string(e.Status),
		nullInt(e.ExecutionTimeMs), formatTime(e.CreatedAt), nullTime(e.ExecutedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrExists, e.ID)
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Execution, error) {
	return getExecution(ctx, s.db, id)
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*domain.Execution) error) (*domain.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := getExecution(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(e); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, execution_time_ms = ?, executed_at = ?
		WHERE id = ?`,
		string(e.Status), nullInt(e.ExecutionTimeMs), nullTime(e.ExecutedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating execution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing execution: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getExecution(ctx context.Context, q queryer, id string) (*domain.Execution, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, code, language, status, execution_time_ms, created_at, executed_at
		FROM executions WHERE id = ?`, id)

	var (
		e          domain.Execution
		language   string
		status     string
		elapsed    sql.NullInt64
		createdAt  string
		executedAt sql.NullString
	)
	err := row.Scan(&e.ID, &e.Code, &language, &status, &elapsed, &createdAt, &executedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning execution: %w", err)
	}

	e.Language = domain.Language(language)
	e.Status = domain.Status(status)
	if elapsed.Valid {
		ms := elapsed.Int64
		e.ExecutionTimeMs = &ms
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if executedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, executedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing executed_at: %w", err)
		}
		e.ExecutedAt = &t
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
