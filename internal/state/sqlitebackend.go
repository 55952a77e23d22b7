package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend is a Backend implementation over a real database rather
// than flat JSON files: a single shared *sql.DB in WAL journal mode, with a
// CREATE TABLE IF NOT EXISTS schema (no schema version is stored). Every record's non-indexed
// attributes are stored as a JSON blob column (`data`), with a handful of
// columns broken out for filtering.
type SQLiteBackend struct {
	conn *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS global_state (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	data  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS repositories (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	data       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workpads (
	id         TEXT PRIMARY KEY,
	repo_id    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workpads_repo ON workpads(repo_id);

CREATE TABLE IF NOT EXISTS test_runs (
	id         TEXT PRIMARY KEY,
	workpad_id TEXT,
	started_at TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_test_runs_workpad ON test_runs(workpad_id);

CREATE TABLE IF NOT EXISTS ai_operations (
	id         TEXT PRIMARY KEY,
	workpad_id TEXT,
	started_at TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ai_ops_workpad ON ai_operations(workpad_id);

CREATE TABLE IF NOT EXISTS promotions (
	id         TEXT PRIMARY KEY,
	repo_id    TEXT NOT NULL,
	workpad_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_promotions_repo ON promotions(repo_id);
CREATE INDEX IF NOT EXISTS idx_promotions_workpad ON promotions(workpad_id);

CREATE TABLE IF NOT EXISTS commits (
	repo_id   TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	sha       TEXT NOT NULL,
	data      TEXT NOT NULL,
	PRIMARY KEY (repo_id, seq)
);

CREATE TABLE IF NOT EXISTS events (
	id        TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	data      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
`

// OpenSQLiteBackend opens (creating if needed) a SQLite-backed Backend at path.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteBackend{conn: conn}, nil
}

// Close closes the underlying connection.
func (b *SQLiteBackend) Close() error { return b.conn.Close() }

func (b *SQLiteBackend) ReadGlobal(ctx context.Context) (*GlobalState, error) {
	var data string
	err := b.conn.QueryRowContext(ctx, `SELECT data FROM global_state WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return NewGlobalState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read global: %w", err)
	}
	var g GlobalState
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (b *SQLiteBackend) WriteGlobal(ctx context.Context, g *GlobalState) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = b.conn.ExecContext(ctx,
		`INSERT INTO global_state (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`, string(data))
	return err
}

func (b *SQLiteBackend) ReadRepo(ctx context.Context, id string) (*Repository, error) {
	var data string
	err := b.conn.QueryRowContext(ctx, `SELECT data FROM repositories WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r Repository
	return &r, json.Unmarshal([]byte(data), &r)
}

func (b *SQLiteBackend) WriteRepo(ctx context.Context, r *Repository) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = b.conn.ExecContext(ctx,
		`INSERT INTO repositories (id, created_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		r.ID, r.CreatedAt.Format(time.RFC3339Nano), string(data))
	return err
}

func (b *SQLiteBackend) ListRepos(ctx context.Context) ([]*Repository, error) {
	rows, err := b.conn.QueryContext(ctx, `SELECT data FROM repositories ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Repository
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r Repository
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) DeleteRepo(ctx context.Context, id string) error {
	res, err := b.conn.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	return checkAffected(res, err)
}

func (b *SQLiteBackend) ReadWorkpad(ctx context.Context, id string) (*Workpad, error) {
	var data string
	err := b.conn.QueryRowContext(ctx, `SELECT data FROM workpads WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var w Workpad
	return &w, json.Unmarshal([]byte(data), &w)
}

func (b *SQLiteBackend) WriteWorkpad(ctx context.Context, w *Workpad) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	_, err = b.conn.ExecContext(ctx,
		`INSERT INTO workpads (id, repo_id, created_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET repo_id = excluded.repo_id, data = excluded.data`,
		w.ID, w.RepoID, w.CreatedAt.Format(time.RFC3339Nano), string(data))
	return err
}

func (b *SQLiteBackend) ListWorkpads(ctx context.Context, f Filter) ([]*Workpad, error) {
	query := `SELECT data FROM workpads WHERE 1=1`
	var args []interface{}
	if f.RepoID != "" {
		query += ` AND repo_id = ?`
		args = append(args, f.RepoID)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := b.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Workpad
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var w Workpad
		if err := json.Unmarshal([]byte(data), &w); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) DeleteWorkpad(ctx context.Context, id string) error {
	res, err := b.conn.ExecContext(ctx, `DELETE FROM workpads WHERE id = ?`, id)
	return checkAffected(res, err)
}

func (b *SQLiteBackend) ReadTestRun(ctx context.Context, id string) (*TestRun, error) {
	var data string
	err := b.conn.QueryRowContext(ctx, `SELECT data FROM test_runs WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t TestRun
	return &t, json.Unmarshal([]byte(data), &t)
}

func (b *SQLiteBackend) WriteTestRun(ctx context.Context, t *TestRun) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = b.conn.ExecContext(ctx,
		`INSERT INTO test_runs (id, workpad_id, started_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET workpad_id = excluded.workpad_id, data = excluded.data`,
		t.ID, t.WorkpadID, t.StartedAt.Format(time.RFC3339Nano), string(data))
	return err
}

func (b *SQLiteBackend) ListTestRuns(ctx context.Context, f Filter) ([]*TestRun, error) {
	query := `SELECT data FROM test_runs WHERE 1=1`
	var args []interface{}
	if f.WorkpadID != "" {
		query += ` AND workpad_id = ?`
		args = append(args, f.WorkpadID)
	}
	query += ` ORDER BY started_at ASC`
	rows, err := b.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TestRun
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t TestRun
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) DeleteTestRun(ctx context.Context, id string) error {
	res, err := b.conn.ExecContext(ctx, `DELETE FROM test_runs WHERE id = ?`, id)
	return checkAffected(res, err)
}

func (b *SQLiteBackend) ReadAIOperation(ctx context.Context, id string) (*AIOperation, error) {
	var data string
	err := b.conn.QueryRowContext(ctx, `SELECT data FROM ai_operations WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a AIOperation
	return &a, json.Unmarshal([]byte(data), &a)
}

func (b *SQLiteBackend) WriteAIOperation(ctx context.Context, a *AIOperation) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = b.conn.ExecContext(ctx,
		`INSERT INTO ai_operations (id, workpad_id, started_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET workpad_id = excluded.workpad_id, data = excluded.data`,
		a.ID, a.WorkpadID, a.StartedAt.Format(time.RFC3339Nano), string(data))
	return err
}

func (b *SQLiteBackend) ListAIOperations(ctx context.Context, f Filter) ([]*AIOperation, error) {
	query := `SELECT data FROM ai_operations WHERE 1=1`
	var args []interface{}
	if f.WorkpadID != "" {
		query += ` AND workpad_id = ?`
		args = append(args, f.WorkpadID)
	}
	query += ` ORDER BY started_at ASC`
	rows, err := b.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AIOperation
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a AIOperation
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) DeleteAIOperation(ctx context.Context, id string) error {
	res, err := b.conn.ExecContext(ctx, `DELETE FROM ai_operations WHERE id = ?`, id)
	return checkAffected(res, err)
}

func (b *SQLiteBackend) ReadPromotion(ctx context.Context, id string) (*PromotionRecord, error) {
	var data string
	err := b.conn.QueryRowContext(ctx, `SELECT data FROM promotions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var p PromotionRecord
	return &p, json.Unmarshal([]byte(data), &p)
}

func (b *SQLiteBackend) WritePromotion(ctx context.Context, p *PromotionRecord) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = b.conn.ExecContext(ctx,
		`INSERT INTO promotions (id, repo_id, workpad_id, created_at, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET repo_id = excluded.repo_id, workpad_id = excluded.workpad_id, data = excluded.data`,
		p.ID, p.RepoID, p.WorkpadID, p.CreatedAt.Format(time.RFC3339Nano), string(data))
	return err
}

func (b *SQLiteBackend) ListPromotions(ctx context.Context, f Filter) ([]*PromotionRecord, error) {
	query := `SELECT data FROM promotions WHERE 1=1`
	var args []interface{}
	if f.RepoID != "" {
		query += ` AND repo_id = ?`
		args = append(args, f.RepoID)
	}
	if f.WorkpadID != "" {
		query += ` AND workpad_id = ?`
		args = append(args, f.WorkpadID)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := b.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*PromotionRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p PromotionRecord
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) DeletePromotion(ctx context.Context, id string) error {
	res, err := b.conn.ExecContext(ctx, `DELETE FROM promotions WHERE id = ?`, id)
	return checkAffected(res, err)
}

// ReadCommits returns up to limit commits, newest first (highest seq first).
func (b *SQLiteBackend) ReadCommits(ctx context.Context, repoID string, limit int) ([]CommitNode, error) {
	query := `SELECT data FROM commits WHERE repo_id = ? ORDER BY seq DESC`
	args := []interface{}{repoID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := b.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CommitNode
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c CommitNode
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// WriteCommit appends c at the next sequence number for repoID, then trims
// the oldest rows beyond maxCommitsPerRepo — the SQLite analogue of the JSON
// backend's bounded ring buffer.
func (b *SQLiteBackend) WriteCommit(ctx context.Context, repoID string, c CommitNode) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM commits WHERE repo_id = ?`, repoID).Scan(&maxSeq); err != nil {
		return err
	}
	nextSeq := int64(0)
	if maxSeq.Valid {
		nextSeq = maxSeq.Int64 + 1
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commits (repo_id, seq, sha, data) VALUES (?, ?, ?, ?)`,
		repoID, nextSeq, c.SHA, string(data)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM commits WHERE repo_id = ? AND seq <= (
			SELECT seq FROM commits WHERE repo_id = ? ORDER BY seq DESC LIMIT 1 OFFSET ?
		)`, repoID, repoID, maxCommitsPerRepo); err != nil {
		return err
	}

	return tx.Commit()
}

func (b *SQLiteBackend) WriteEvent(ctx context.Context, e StateEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = b.conn.ExecContext(ctx,
		`INSERT INTO events (id, timestamp, data) VALUES (?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), string(data))
	if err != nil {
		return err
	}
	_, err = b.conn.ExecContext(ctx,
		`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY timestamp DESC LIMIT ?)`,
		maxEventsPerDay)
	return err
}

func (b *SQLiteBackend) ReadEvents(ctx context.Context, since *time.Time, limit int) ([]StateEvent, error) {
	query := `SELECT data FROM events WHERE 1=1`
	var args []interface{}
	if since != nil {
		query += ` AND timestamp > ?`
		args = append(args, since.Format(time.RFC3339Nano))
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := b.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StateEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e StateEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
