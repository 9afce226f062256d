package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const recordColumns = "id, run_id, kind, input_path, output_path, template_path, facemask_path, cost, status, error_message, started_at, finished_at"

// Store manages the run ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends rec to the ledger and returns its row identifier.
func (s *Store) Record(ctx context.Context, rec Record) (int64, error) {
	if strings.TrimSpace(rec.RunID) == "" {
		return 0, errors.New("run id required")
	}
	if strings.TrimSpace(rec.Input) == "" {
		return 0, errors.New("input path required")
	}
	if rec.Kind == "" {
		rec.Kind = KindDeface
	}
	if rec.Status == "" {
		rec.Status = StatusSucceeded
	}
	now := time.Now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = now
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
            run_id, kind, input_path, output_path, template_path, facemask_path,
            cost, status, error_message, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		string(rec.Kind),
		rec.Input,
		nullableString(rec.Output),
		nullableString(rec.Template),
		nullableString(rec.Facemask),
		nullableString(rec.Cost),
		string(rec.Status),
		nullableString(rec.Error),
		rec.StartedAt.UTC().Format(timeLayout),
		rec.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns the most recent records first. A non-positive limit returns
// every record.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ByRunID returns the records whose run identifier starts with runID, in
// insertion order. The shortened identifiers shown by List are accepted.
func (s *Store) ByRunID(ctx context.Context, runID string) ([]Record, error) {
	if runID == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM runs WHERE substr(run_id, 1, length(?)) = ? ORDER BY id`, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		rec         Record
		kind        string
		status      string
		output      sql.NullString
		template    sql.NullString
		facemask    sql.NullString
		cost        sql.NullString
		errMessage  sql.NullString
		startedRaw  string
		finishedRaw string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.RunID,
		&kind,
		&rec.Input,
		&output,
		&template,
		&facemask,
		&cost,
		&status,
		&errMessage,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	rec.Status = Status(status)
	rec.Output = output.String
	rec.Template = template.String
	rec.Facemask = facemask.String
	rec.Cost = cost.String
	rec.Error = errMessage.String
	if started, err := time.Parse(timeLayout, startedRaw); err == nil {
		rec.StartedAt = started
	}
	if finished, err := time.Parse(timeLayout, finishedRaw); err == nil {
		rec.FinishedAt = finished
	}
	return rec, nil
}

// timeLayout is fixed width so that text order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
