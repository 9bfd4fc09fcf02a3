package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
	"go.uber.org/zap"
)

// PostgresStore persists run records in postgres.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore opens the database and ensures the schema exists.
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("results: open postgres: %w", err)
	}
	store := &PostgresStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS stress_runs (
			id UUID PRIMARY KEY,
			loader TEXT NOT NULL,
			loader_idx INT NOT NULL,
			cpu_idx INT NOT NULL,
			keyspace_idx INT NOT NULL,
			operation TEXT NOT NULL,
			command TEXT NOT NULL,
			log_file TEXT NOT NULL,
			exit_code INT NOT NULL,
			success BOOLEAN NOT NULL,
			failure TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ns BIGINT NOT NULL
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("results: create schema: %w", err)
	}
	return nil
}

// SaveRun implements Store.
func (s *PostgresStore) SaveRun(ctx context.Context, record *RunRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	query := `
		INSERT INTO stress_runs
		(id, loader, loader_idx, cpu_idx, keyspace_idx, operation, command,
		 log_file, exit_code, success, failure, started_at, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.Loader, record.LoaderIdx, record.CPUIdx, record.KeyspaceIdx,
		record.Operation, record.Command, record.LogFile, record.ExitCode,
		record.Success, sqlNullString(record.Failure), record.StartedAt,
		record.Duration.Nanoseconds())
	if err != nil {
		return fmt.Errorf("results: save run %s: %w", record.ID, err)
	}

	s.logger.Debug("run record saved",
		zap.String("run_id", record.ID.String()),
		zap.String("loader", record.Loader),
		zap.Bool("success", record.Success))
	return nil
}

// ListRuns implements Store.
func (s *PostgresStore) ListRuns(ctx context.Context) ([]*RunRecord, error) {
	query := `
		SELECT id, loader, loader_idx, cpu_idx, keyspace_idx, operation, command,
		       log_file, exit_code, success, failure, started_at, duration_ns
		FROM stress_runs
		ORDER BY started_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("results: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*RunRecord
	for rows.Next() {
		var r RunRecord
		var failure sql.NullString
		var durationNs int64
		var startedAt time.Time
		if err := rows.Scan(&r.ID, &r.Loader, &r.LoaderIdx, &r.CPUIdx, &r.KeyspaceIdx,
			&r.Operation, &r.Command, &r.LogFile, &r.ExitCode, &r.Success,
			&failure, &startedAt, &durationNs); err != nil {
			return nil, fmt.Errorf("results: scan run: %w", err)
		}
		r.Failure = failure.String
		r.StartedAt = startedAt
		r.Duration = time.Duration(durationNs)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("results: iterate runs: %w", err)
	}
	return records, nil
}

// Close releases the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
