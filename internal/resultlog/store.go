package resultlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one executed action. Records are append-only.
type Record struct {
	Seq        int64
	TaskID     string
	Tool       string
	Command    string
	Success    bool
	Output     string
	Verified   bool
	Notes      string
	Retries    int
	DurationMs int64
	Timestamp  time.Time
}

// Query filters Records. Zero values mean no filter.
type Query struct {
	TaskID string
	Search string
	Limit  int
}

// Store persists the result log in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// DefaultPath is <workspace>/state/results.db.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, "state", "results.db")
}

// Open creates (or opens) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create result log dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open result log: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &Store{db: db, path: path}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init result log: %w", err)
	}
	return store, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS results (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		tool TEXT,
		command TEXT,
		success INTEGER,
		output TEXT,
		verified INTEGER,
		notes TEXT,
		retries INTEGER,
		duration_ms INTEGER,
		timestamp TEXT
	);`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS results_task ON results(task_id);`)
	return err
}

// Append inserts a record and returns its sequence number.
func (s *Store) Append(ctx context.Context, rec Record) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO results
		(task_id, tool, command, success, output, verified, notes, retries, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID,
		rec.Tool,
		rec.Command,
		boolToInt(rec.Success),
		rec.Output,
		boolToInt(rec.Verified),
		rec.Notes,
		rec.Retries,
		rec.DurationMs,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("append result: %w", err)
	}
	return res.LastInsertId()
}

// Records returns matching records in append order. With a limit, the most
// recent records are returned, still in append order.
func (s *Store) Records(ctx context.Context, q Query) ([]Record, error) {
	var builder strings.Builder
	builder.WriteString("SELECT seq, task_id, tool, command, success, output, verified, notes, retries, duration_ms, timestamp FROM results")
	var where []string
	var args []any
	if q.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, q.TaskID)
	}
	if q.Search != "" {
		where = append(where, "(command LIKE ? OR output LIKE ?)")
		args = append(args, "%"+q.Search+"%", "%"+q.Search+"%")
	}
	if len(where) > 0 {
		builder.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	builder.WriteString(" ORDER BY seq DESC")
	if q.Limit > 0 {
		builder.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts string
		var success, verified int
		if err := rows.Scan(&rec.Seq, &rec.TaskID, &rec.Tool, &rec.Command, &success, &rec.Output,
			&verified, &rec.Notes, &rec.Retries, &rec.DurationMs, &ts); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		}
		rec.Success = success == 1
		rec.Verified = verified == 1
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Clear deletes all records.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM results")
	return err
}

// Path returns the sqlite database path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
