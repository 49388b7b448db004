// Package store keeps run history, defect provenance, metric scores and
// defect extents in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"airwaydefects/internal/models"
	"airwaydefects/pkg/extent"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	seed INTEGER NOT NULL,
	config TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	cases_ok INTEGER NOT NULL DEFAULT 0,
	cases_failed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS defects (
	run_id TEXT NOT NULL REFERENCES runs(id),
	case_name TEXT NOT NULL,
	branch_id INTEGER NOT NULL,
	type_error INTEGER NOT NULL,
	center_x REAL NOT NULL,
	center_y REAL NOT NULL,
	center_z REAL NOT NULL,
	diameter REAL NOT NULL,
	length REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics (
	run_id TEXT NOT NULL REFERENCES runs(id),
	case_name TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	value REAL NOT NULL,
	PRIMARY KEY (run_id, case_name, name)
);
CREATE TABLE IF NOT EXISTS extents (
	run_id TEXT NOT NULL REFERENCES runs(id),
	case_name TEXT NOT NULL,
	ratio_num_branch_type1 REAL NOT NULL,
	ratio_tree_length_type1 REAL NOT NULL,
	ratio_num_branch_type2 REAL NOT NULL,
	ratio_tree_length_type2 REAL NOT NULL,
	PRIMARY KEY (run_id, case_name)
);`

// timeLayout keeps timestamps fixed-width so they sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrUnknownRun is returned when a run id is not in the database
var ErrUnknownRun = errors.New("unknown run")

// Run is one CLI invocation
type Run struct {
	ID          string
	Command     string
	Seed        uint64
	Config      string
	StartedAt   time.Time
	FinishedAt  *time.Time
	CasesOK     int
	CasesFailed int
}

// Store is a SQLite-backed results database
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: an in-memory database is per connection, and writers
	// would otherwise contend for the file lock
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records the start of a run and returns its id
func (s *Store) BeginRun(ctx context.Context, command string, seed uint64, config string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, seed, config, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, command, int64(seed), config, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the end time and case counts of a run
func (s *Store) FinishRun(ctx context.Context, runID string, ok, failed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, cases_ok = ?, cases_failed = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), ok, failed, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return nil
}

const runColumns = `id, command, seed, config, started_at, finished_at, cases_ok, cases_failed`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r        Run
		seed     int64
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Command, &seed, &r.Config, &started, &finished, &r.CasesOK, &r.CasesFailed); err != nil {
		return Run{}, err
	}
	r.Seed = uint64(seed)
	var err error
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("parse start time: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse finish time: %w", err)
		}
		r.FinishedAt = &t
	}
	return r, nil
}

// GetRun loads a run
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("select run: %w", err)
	}
	return r, nil
}

// Runs lists every run, oldest first
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// withTx runs fn in a transaction that is rolled back on error
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveDefects stores the provenance of one case
func (s *Store) SaveDefects(ctx context.Context, runID, caseName string, records []models.DefectRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO defects
			(run_id, case_name, branch_id, type_error, center_x, center_y, center_z, diameter, length)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare defects: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, runID, caseName, rec.BranchID, int(rec.Type),
				rec.Center.X, rec.Center.Y, rec.Center.Z, rec.Diameter, rec.Length); err != nil {
				return fmt.Errorf("insert defect: %w", err)
			}
		}
		return nil
	})
}

// Defects loads the provenance of one case, ordered as stored
func (s *Store) Defects(ctx context.Context, runID, caseName string) ([]models.DefectRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT branch_id, type_error, center_x, center_y, center_z, diameter, length
		FROM defects WHERE run_id = ? AND case_name = ? ORDER BY rowid`, runID, caseName)
	if err != nil {
		return nil, fmt.Errorf("select defects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.DefectRecord
	for rows.Next() {
		var (
			rec models.DefectRecord
			typ int
			c   r3.Vector
		)
		if err := rows.Scan(&rec.BranchID, &typ, &c.X, &c.Y, &c.Z, &rec.Diameter, &rec.Length); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if rec.Type, err = models.ParseDefectType(typ); err != nil {
			return nil, err
		}
		rec.Center = c
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveMetrics stores the scores of one case
func (s *Store) SaveMetrics(ctx context.Context, runID string, res models.MetricResult) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i, v := range res.Values {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO metrics (run_id, case_name, position, name, value) VALUES (?, ?, ?, ?, ?)`,
				runID, res.Case, i, v.Name, v.Value); err != nil {
				return fmt.Errorf("insert metric: %w", err)
			}
		}
		return nil
	})
}

// Metrics loads the scores of a run, cases by name and metrics in the
// order they were computed
func (s *Store) Metrics(ctx context.Context, runID string) ([]models.MetricResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT case_name, name, value FROM metrics
		WHERE run_id = ? ORDER BY case_name, position`, runID)
	if err != nil {
		return nil, fmt.Errorf("select metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.MetricResult
	for rows.Next() {
		var (
			caseName string
			v        models.MetricValue
		)
		if err := rows.Scan(&caseName, &v.Name, &v.Value); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].Case != caseName {
			out = append(out, models.MetricResult{Case: caseName})
		}
		last := &out[len(out)-1]
		last.Values = append(last.Values, v)
	}
	return out, rows.Err()
}

// SaveExtent stores the defect extent of one case
func (s *Store) SaveExtent(ctx context.Context, runID string, sum extent.Summary) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO extents
		(run_id, case_name, ratio_num_branch_type1, ratio_tree_length_type1, ratio_num_branch_type2, ratio_tree_length_type2)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, sum.Case,
		sum.MidBranch.BranchCountRatio, sum.MidBranch.TreeLengthRatio,
		sum.Terminal.BranchCountRatio, sum.Terminal.TreeLengthRatio)
	if err != nil {
		return fmt.Errorf("insert extent: %w", err)
	}
	return nil
}

// Extents loads the defect extents of a run ordered by case
func (s *Store) Extents(ctx context.Context, runID string) ([]extent.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT case_name, ratio_num_branch_type1, ratio_tree_length_type1,
		ratio_num_branch_type2, ratio_tree_length_type2 FROM extents WHERE run_id = ? ORDER BY case_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("select extents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []extent.Summary
	for rows.Next() {
		var sum extent.Summary
		if err := rows.Scan(&sum.Case, &sum.MidBranch.BranchCountRatio, &sum.MidBranch.TreeLengthRatio,
			&sum.Terminal.BranchCountRatio, &sum.Terminal.TreeLengthRatio); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
