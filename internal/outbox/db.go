package outbox

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eliseohh/branchpoll/internal/survey"
)

//go:embed schema.sql
var schema string

// DB is the on-disk queue of rows the sheet did not accept.
type DB struct {
	*sql.DB
}

type Entry struct {
	ID        string
	Row       survey.ResponseRow
	Attempts  int
	LastError string
	CreatedAt time.Time
}

func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping outbox: %w", err)
	}
	// SQLite allows one writer; keep database/sql from opening more.
	db.SetMaxOpenConns(1)

	d := &DB{db}
	if err := d.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) InitSchema() error {
	if _, err := d.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Enqueue stores row for a later attempt. The failed first write counts as
// attempt one.
func (d *DB) Enqueue(ctx context.Context, row survey.ResponseRow, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := d.ExecContext(ctx,
		`INSERT INTO outbox (id, respondent, branch, answer, ts, attempts, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		uuid.NewString(), row.Respondent, row.Branch, row.Answer, row.Timestamp, msg, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Pending returns up to limit entries that have been tried fewer than
// maxAttempts times, oldest first. maxAttempts <= 0 means no cap.
func (d *DB) Pending(ctx context.Context, maxAttempts, limit int) ([]Entry, error) {
	if maxAttempts <= 0 {
		maxAttempts = int(^uint32(0) >> 1)
	}
	rows, err := d.QueryContext(ctx,
		`SELECT id, respondent, branch, answer, ts, attempts, last_error, created_at
		 FROM outbox WHERE attempts < ? ORDER BY created_at, rowid LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Row.Respondent, &e.Row.Branch, &e.Row.Answer, &e.Row.Timestamp,
			&e.Attempts, &e.LastError, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DB) Remove(ctx context.Context, id string) error {
	_, err := d.ExecContext(ctx, "DELETE FROM outbox WHERE id = ?", id)
	return err
}

func (d *DB) MarkFailed(ctx context.Context, id string, cause error) error {
	_, err := d.ExecContext(ctx,
		"UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?", cause.Error(), id)
	return err
}

// Count reports entries still eligible for retry and entries that ran out
// of attempts.
func (d *DB) Count(ctx context.Context, maxAttempts int) (pending, dead int, err error) {
	if maxAttempts <= 0 {
		err = d.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&pending)
		return pending, 0, err
	}
	err = d.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN attempts < ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN attempts >= ? THEN 1 ELSE 0 END), 0)
		 FROM outbox`, maxAttempts, maxAttempts).Scan(&pending, &dead)
	return pending, dead, err
}
