// Package runlog persists finished pipeline runs in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

const cleanupInterval = 24 * time.Hour

// Log writes and queries run records.
type Log struct {
	db            *sql.DB
	retentionDays int
	done          chan struct{}
	wg            sync.WaitGroup
}

// New opens the run log database and creates the schema. When
// retentionDays is positive, runs older than that are deleted once a day.
func New(dbPath string, retentionDays int) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open runlog db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate runlog db: %w", err)
	}

	l := &Log{
		db:            db,
		retentionDays: retentionDays,
		done:          make(chan struct{}),
	}

	if retentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		prompt      TEXT NOT NULL,
		status      TEXT NOT NULL,
		errors      TEXT NOT NULL DEFAULT '[]',
		outputs     TEXT NOT NULL DEFAULT '{}',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS stage_messages (
		run_id      TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		from_stage  TEXT NOT NULL,
		to_stage    TEXT NOT NULL,
		task        TEXT NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	)`)
	return err
}

// Save stores a finished run together with its stage messages, replacing
// any earlier record with the same id.
func (l *Log) Save(ctx context.Context, r *models.Result) error {
	if l == nil || l.db == nil {
		return nil
	}

	errs, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	outputs, err := json.Marshal(r.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	created := r.StartedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, prompt, status, errors, outputs, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Prompt, string(r.Status), string(errs), string(outputs), r.DurationMs, created,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_messages WHERE run_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for i, m := range r.Messages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stage_messages (run_id, seq, from_stage, to_stage, task, status, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, m.From, m.To, m.Task, string(m.Status), m.Error, m.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, prompt, status, errors, outputs, duration_ms, created_at`

func scanRun(row interface{ Scan(...any) error }) (models.RunRecord, error) {
	var rec models.RunRecord
	var status, errs string
	if err := row.Scan(&rec.ID, &rec.Prompt, &status, &errs, &rec.Outputs, &rec.DurationMs, &rec.CreatedAt); err != nil {
		return rec, err
	}
	rec.Status = models.RunStatus(status)
	_ = json.Unmarshal([]byte(errs), &rec.Errors)
	if rec.Errors == nil {
		rec.Errors = []string{}
	}
	return rec, nil
}

// Get returns one run by id.
func (l *Log) Get(ctx context.Context, id string) (models.RunRecord, error) {
	rec, err := scanRun(l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// List returns runs matching opts, newest first.
func (l *Log) List(ctx context.Context, opts models.RunQueryOpts) ([]models.RunRecord, error) {
	q := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if opts.Status != "" {
		q += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var recs []models.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Messages returns the stage messages of a run in dispatch order. Payloads
// and results are not persisted.
func (l *Log) Messages(ctx context.Context, runID string) ([]models.StageMessage, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT from_stage, to_stage, task, status, error, duration_ms
		 FROM stage_messages WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.StageMessage
	for rows.Next() {
		m := models.StageMessage{RunID: runID}
		var status string
		if err := rows.Scan(&m.From, &m.To, &m.Task, &status, &m.Error, &m.DurationMs); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Status = models.StageStatus(status)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Stats returns run counts grouped by status and day.
func (l *Log) Stats(ctx context.Context) ([]models.RunStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT status, substr(created_at, 1, 10) as day, count(*) as cnt
		 FROM runs GROUP BY status, day ORDER BY day DESC, status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	var stats []models.RunStat
	for rows.Next() {
		var s models.RunStat
		var status string
		var day sql.NullString
		if err := rows.Scan(&status, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan run stat: %w", err)
		}
		s.Status = models.RunStatus(status)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes runs older than the retention period.
func (l *Log) Cleanup(ctx context.Context) (int64, error) {
	if l.retentionDays <= 0 {
		return 0, nil
	}
	return l.deleteBefore(ctx, time.Now().UTC().AddDate(0, 0, -l.retentionDays))
}

func (l *Log) deleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM stage_messages WHERE run_id IN (SELECT id FROM runs WHERE created_at < ?)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("runlog cleanup: %w", err)
	}
	res, err := l.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("runlog cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Log) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Log) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}
