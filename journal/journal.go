// Package journal keeps a SQLite record of every replay run and the events
// it produced, so a bad take can be traced back to the keystroke or wait
// that went wrong.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/slcjordan/demoreel/logger"
	"github.com/slcjordan/demoreel/replay"
)

//go:embed schema.sql
var schema string

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var ErrUnknownRun = errors.New("unknown run")

type Conn struct {
	db *sql.DB
}

// Open creates the database file and its directory if needed and applies
// the schema.
func Open(ctx context.Context, filename string) (*Conn, error) {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", filename))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	c := &Conn{db: db}
	if err := c.ApplySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) Close() error {
	return c.db.Close()
}

func (c *Conn) ApplySchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying journal schema: %w", err)
	}
	return nil
}

type Run struct {
	ID         string
	Scene      string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     Status
	Error      string
}

type Event struct {
	RunID  string
	Seq    int
	Kind   replay.EventKind
	Detail string
	Delay  time.Duration
	At     time.Time
}

// Begin records a new run and returns its id.
func (c *Conn) Begin(ctx context.Context, scene string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (id, scene, started_at, status) VALUES (?, ?, ?, ?)`,
		id, scene, at.UTC(), StatusRunning)
	if err != nil {
		return "", fmt.Errorf("beginning run: %w", err)
	}
	return id, nil
}

// Finish closes a run. A nil runErr marks it succeeded.
func (c *Conn) Finish(ctx context.Context, id string, at time.Time, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		at.UTC(), status, msg, id)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing run %s: %w", id, ErrUnknownRun)
	}
	return nil
}

func (c *Conn) Run(ctx context.Context, id string) (Run, error) {
	var r Run
	err := c.db.QueryRowContext(ctx,
		`SELECT id, scene, started_at, finished_at, status, error FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Scene, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrUnknownRun)
	}
	if err != nil {
		return Run{}, fmt.Errorf("reading run: %w", err)
	}
	return r, nil
}

// Runs lists the runs of a scene, newest first.
func (c *Conn) Runs(ctx context.Context, scene string) ([]Run, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, scene, started_at, finished_at, status, error FROM runs WHERE scene = ? ORDER BY started_at DESC`, scene)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Scene, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (c *Conn) AddEvent(ctx context.Context, e Event) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, kind, detail, delay_ms, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Seq, string(e.Kind), e.Detail, float64(e.Delay)/float64(time.Millisecond), e.At.UTC())
	if err != nil {
		return fmt.Errorf("saving event %d: %w", e.Seq, err)
	}
	return nil
}

// Events reads a run back in the order it happened.
func (c *Conn) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT run_id, seq, kind, detail, delay_ms, at FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var e Event
		var kind string
		var delayMS float64
		if err := rows.Scan(&e.RunID, &e.Seq, &kind, &e.Detail, &delayMS, &e.At); err != nil {
			return nil, err
		}
		e.Kind = replay.EventKind(kind)
		e.Delay = time.Duration(delayMS * float64(time.Millisecond))
		events = append(events, e)
	}
	return events, rows.Err()
}

// Recorder journals the events of one run. It is a replay.Listener.
type Recorder struct {
	conn  *Conn
	ctx   context.Context
	runID string
	err   error
}

func (c *Conn) Recorder(ctx context.Context, runID string) *Recorder {
	return &Recorder{conn: c, ctx: logger.WithValue(ctx, "run", runID), runID: runID}
}

// Notify saves the event. The first failure is kept for Err and later
// events are still attempted.
func (r *Recorder) Notify(e replay.Event) {
	delay := e.Delay
	if e.Kind == replay.EventWait {
		delay = e.Elapsed
	}
	err := r.conn.AddEvent(r.ctx, Event{
		RunID:  r.runID,
		Seq:    e.Seq,
		Kind:   e.Kind,
		Detail: e.Detail(),
		Delay:  delay,
		At:     e.At,
	})
	if err != nil {
		logger.Errorf(r.ctx, "could not journal event: %s", err)
		if r.err == nil {
			r.err = err
		}
	}
}

func (r *Recorder) Err() error {
	return r.err
}
