package checkpoint

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore provides SQLite-backed result persistence
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath; ":memory:" is allowed
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating checkpoint dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection: keeps :memory: databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil && dbPath != ":memory:" {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves one result
func (s *SQLiteStore) Get(strategy domain.Strategy, instanceID string) (domain.SolveResult, bool, error) {
	row := s.db.QueryRow(`
		SELECT instance_id, repo, patch, strategy, success, error, elapsed_sec, tokens_used, applied
		FROM results WHERE strategy = ? AND instance_id = ?
	`, string(strategy), instanceID)

	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return domain.SolveResult{}, false, nil
	}
	if err != nil {
		return domain.SolveResult{}, false, err
	}
	return r, true, nil
}

// Put upserts results in one transaction
func (s *SQLiteStore) Put(results ...domain.SolveResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO results (strategy, instance_id, repo, patch, success, error, elapsed_sec, tokens_used, applied, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy, instance_id) DO UPDATE SET
			repo = excluded.repo,
			patch = excluded.patch,
			success = excluded.success,
			error = excluded.error,
			elapsed_sec = excluded.elapsed_sec,
			tokens_used = excluded.tokens_used,
			applied = excluded.applied,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range results {
		var errText sql.NullString
		if r.Error != "" {
			errText = sql.NullString{String: r.Error, Valid: true}
		}
		var applied sql.NullBool
		if r.Applied != nil {
			applied = sql.NullBool{Bool: *r.Applied, Valid: true}
		}
		if _, err := stmt.Exec(string(r.Strategy), r.InstanceID, r.Repo, r.Patch, r.Success, errText,
			r.ElapsedSeconds, r.TokensUsed, applied, now); err != nil {
			return fmt.Errorf("saving %s: %w", r.InstanceID, err)
		}
	}
	return tx.Commit()
}

// All returns stored results for a strategy (or all strategies when empty)
func (s *SQLiteStore) All(strategy domain.Strategy) ([]domain.SolveResult, error) {
	query := `SELECT instance_id, repo, patch, strategy, success, error, elapsed_sec, tokens_used, applied FROM results`
	var args []interface{}
	if strategy != "" {
		query += " WHERE strategy = ?"
		args = append(args, string(strategy))
	}
	query += " ORDER BY strategy, instance_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.SolveResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Clear deletes every result of a strategy
func (s *SQLiteStore) Clear(strategy domain.Strategy) error {
	_, err := s.db.Exec(`DELETE FROM results WHERE strategy = ?`, string(strategy))
	return err
}

// RunRecord summarizes one batch execution
type RunRecord struct {
	ID         string
	Strategy   domain.Strategy
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Generated  int
	Valid      int
	Failed     int
}

// RecordRun upserts a run summary
func (s *SQLiteStore) RecordRun(r RunRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, strategy, started_at, finished_at, total, generated, valid, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			total = excluded.total,
			generated = excluded.generated,
			valid = excluded.valid,
			failed = excluded.failed
	`, r.ID, string(r.Strategy), r.StartedAt, r.FinishedAt, r.Total, r.Generated, r.Valid, r.Failed)
	return err
}

// ListRuns returns the most recent runs first
func (s *SQLiteStore) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, strategy, started_at, finished_at, total, generated, valid, failed
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var strategy string
		var started, finished sql.NullTime
		if err := rows.Scan(&r.ID, &strategy, &started, &finished, &r.Total, &r.Generated, &r.Valid, &r.Failed); err != nil {
			return nil, err
		}
		r.Strategy = domain.Strategy(strategy)
		r.StartedAt = started.Time
		r.FinishedAt = finished.Time
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(row scanner) (domain.SolveResult, error) {
	var r domain.SolveResult
	var strategy string
	var errText sql.NullString
	var applied sql.NullBool
	if err := row.Scan(&r.InstanceID, &r.Repo, &r.Patch, &strategy, &r.Success, &errText, &r.ElapsedSeconds, &r.TokensUsed, &applied); err != nil {
		return domain.SolveResult{}, err
	}
	r.Strategy = domain.Strategy(strategy)
	r.Error = errText.String
	if applied.Valid {
		v := applied.Bool
		r.Applied = &v
	}
	return r, nil
}
