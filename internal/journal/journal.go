// Package journal keeps a sqlite record of every run and every comment submission attempt.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"ganagram/internal/components/chrono"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Status is how a run ended.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Username   string
	Target     string
	Post       string
	Relation   string
	Mode       string
	Status     Status
	Discovered int
	Confirmed  int
	Failed     int
	Error      string
}

type Attempt struct {
	Number   int
	At       time.Time
	Outcome  string
	Duration time.Duration
	Mentions []string
	Injected bool
	Error    string
}

type Journal struct {
	db    *sql.DB
	clock chrono.API
}

// Open opens (creating if needed) the journal at path, ":memory:" works for tests.
func Open(path string, clock chrono.API) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// sqlite serializes writers anyway, a single connection also keeps :memory: databases alive
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"pragma journal_mode = wal", "pragma foreign_keys = on", Schema} {
		_, err = db.Exec(stmt)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
	}
	return &Journal{db: db, clock: clock}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// StartRun inserts run as running and returns its id.
func (j *Journal) StartRun(ctx context.Context, run Run) (int64, error) {
	res, err := j.db.ExecContext(
		ctx,
		`insert into runs (started_at, username, target, post, relation, mode, status)
		values (?, ?, ?, ?, ?, ?, ?)`,
		j.clock.Now().Unix(), run.Username, run.Target, run.Post, run.Relation, run.Mode, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return res.LastInsertId()
}

// UpdateTarget sets the target of a run once it has been resolved.
func (j *Journal) UpdateTarget(ctx context.Context, id int64, target string) error {
	_, err := j.db.ExecContext(ctx, `update runs set target = ? where id = ?`, target, id)
	return err
}

// FinishRun records how run id ended.
func (j *Journal) FinishRun(ctx context.Context, id int64, run Run) error {
	_, err := j.db.ExecContext(
		ctx,
		`update runs set finished_at = ?, status = ?, discovered = ?, confirmed = ?, failed = ?, error = ?
		where id = ?`,
		j.clock.Now().Unix(), run.Status, run.Discovered, run.Confirmed, run.Failed, run.Error, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordAttempt appends a submission attempt to run id.
func (j *Journal) RecordAttempt(ctx context.Context, id int64, a Attempt) error {
	at := a.At
	if at.IsZero() {
		at = j.clock.Now()
	}
	_, err := j.db.ExecContext(
		ctx,
		`insert into attempts (run_id, number, at, outcome, duration_ms, mentions, injected, error)
		values (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.Number, at.Unix(), a.Outcome, a.Duration.Milliseconds(),
		strings.Join(a.Mentions, " "), a.Injected, a.Error,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// RecentRuns returns the last limit runs, newest first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`select id, started_at, finished_at, username, target, post, relation, mode, status,
			discovered, confirmed, failed, error
		from runs order by id desc limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			started  int64
			finished sql.NullInt64
		)
		err := rows.Scan(
			&run.ID, &started, &finished, &run.Username, &run.Target, &run.Post, &run.Relation,
			&run.Mode, &run.Status, &run.Discovered, &run.Confirmed, &run.Failed, &run.Error,
		)
		if err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			run.FinishedAt = time.Unix(finished.Int64, 0)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Attempts returns the attempts of run id in order.
func (j *Journal) Attempts(ctx context.Context, id int64) ([]Attempt, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`select number, at, outcome, duration_ms, mentions, injected, error
		from attempts where run_id = ? order by id`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a        Attempt
			at       int64
			duration int64
			mentions string
		)
		err := rows.Scan(&a.Number, &at, &a.Outcome, &duration, &mentions, &a.Injected, &a.Error)
		if err != nil {
			return nil, err
		}
		a.At = time.Unix(at, 0)
		a.Duration = time.Duration(duration) * time.Millisecond
		if mentions != "" {
			a.Mentions = strings.Fields(mentions)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
