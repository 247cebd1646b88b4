package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type DB struct {
	SQL  *sql.DB
	Path string
}

// Dispatch is one goal dispatch of one action node, from goal production to
// its terminal state.
type Dispatch struct {
	ID         int64     `json:"id"`
	Node       string    `json:"node"`
	Action     string    `json:"action"`
	Attempt    uint64    `json:"attempt"`
	GoalID     string    `json:"goal_id"`
	GoalJSON   string    `json:"goal_json"`
	State      string    `json:"state"`
	Status     string    `json:"status"`
	ResultCode string    `json:"result_code"`
	ErrorCode  string    `json:"error_code"`
	Halted     bool      `json:"halted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrNotFound is returned when an update targets a dispatch that does not exist.
var ErrNotFound = errors.New("dispatch not found")

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}
	// modernc SQLite opens a connection per goroutine unless capped; a single
	// writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{SQL: db, Path: path}, nil
}

func (d *DB) Close() error {
	return d.SQL.Close()
}

func migrate(db *sql.DB) error {
	ctx := context.Background()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			node TEXT NOT NULL,
			action TEXT,
			attempt INTEGER,
			goal_id TEXT,
			goal_json TEXT,
			state TEXT,
			status TEXT,
			result_code TEXT,
			error_code TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS dispatches_node ON dispatches (node, id);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			zap.L().Error("migration failed", zap.Error(err))
			return err
		}
	}
	return ensureDispatchSchema(db)
}

func ensureDispatchSchema(db *sql.DB) error {
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `ALTER TABLE dispatches ADD COLUMN halted INTEGER DEFAULT 0`); err != nil {
		if !isDuplicateColumnError(err) {
			return err
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

func (d *DB) CreateDispatch(ctx context.Context, disp Dispatch) (int64, error) {
	if disp.Node == "" {
		return 0, errors.New("dispatch node required")
	}
	if disp.CreatedAt.IsZero() {
		disp.CreatedAt = time.Now().UTC()
	}
	if disp.UpdatedAt.IsZero() {
		disp.UpdatedAt = disp.CreatedAt
	}
	stmt, err := d.SQL.PrepareContext(ctx, `INSERT INTO dispatches (node, action, attempt, goal_id, goal_json, state, status, result_code, error_code, halted, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, disp.Node, disp.Action, disp.Attempt, disp.GoalID, disp.GoalJSON,
		disp.State, disp.Status, disp.ResultCode, disp.ErrorCode, disp.Halted, disp.CreatedAt, disp.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateDispatch overwrites the mutable columns of disp.ID. An empty GoalID
// keeps the stored one.
func (d *DB) UpdateDispatch(ctx context.Context, disp Dispatch) error {
	if disp.UpdatedAt.IsZero() {
		disp.UpdatedAt = time.Now().UTC()
	}
	stmt, err := d.SQL.PrepareContext(ctx, `UPDATE dispatches SET
	goal_id = CASE WHEN ? != '' THEN ? ELSE goal_id END,
	state = ?, status = ?, result_code = ?, error_code = ?, halted = ?, updated_at = ?
WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	res, err := stmt.ExecContext(ctx, disp.GoalID, disp.GoalID, disp.State, disp.Status,
		disp.ResultCode, disp.ErrorCode, disp.Halted, disp.UpdatedAt, disp.ID)
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

// ListDispatches returns the newest dispatches first, limited to node when
// it is non-empty. limit <= 0 returns all of them.
func (d *DB) ListDispatches(ctx context.Context, node string, limit int) ([]Dispatch, error) {
	query := `SELECT id, node, action, attempt, goal_id, goal_json, state, status, result_code, error_code, halted, created_at, updated_at FROM dispatches`
	var args []interface{}
	if node != "" {
		query += ` WHERE node = ?`
		args = append(args, node)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Dispatch
	for rows.Next() {
		var disp Dispatch
		var action, goalID, goalJSON, state, status, resultCode, errorCode sql.NullString
		var halted sql.NullBool
		var createdAt, updatedAt sql.NullTime
		if err := rows.Scan(&disp.ID, &disp.Node, &action, &disp.Attempt, &goalID, &goalJSON, &state, &status,
			&resultCode, &errorCode, &halted, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		disp.Action = action.String
		disp.GoalID = goalID.String
		disp.GoalJSON = goalJSON.String
		disp.State = state.String
		disp.Status = status.String
		disp.ResultCode = resultCode.String
		disp.ErrorCode = errorCode.String
		disp.Halted = halted.Bool
		if createdAt.Valid {
			disp.CreatedAt = createdAt.Time
		}
		if updatedAt.Valid {
			disp.UpdatedAt = updatedAt.Time
		}
		out = append(out, disp)
	}
	if out == nil {
		out = []Dispatch{}
	}
	return out, rows.Err()
}
