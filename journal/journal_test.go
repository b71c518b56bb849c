package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/replay"
)

func openTest(t *testing.T) *Conn {
	t.Helper()
	conn, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

var t0 = time.Date(2020, 7, 8, 9, 30, 0, 0, time.UTC)

func TestRunLifecycle(t *testing.T) {
	conn := openTest(t)
	ctx := context.Background()

	id, err := conn.Begin(ctx, "intro", t0)
	require.NoError(t, err)
	require.Len(t, id, 36)

	run, err := conn.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "intro", run.Scene)
	assert.Equal(t, StatusRunning, run.Status)
	assert.True(t, run.StartedAt.Equal(t0))
	assert.False(t, run.FinishedAt.Valid)

	require.NoError(t, conn.Finish(ctx, id, t0.Add(time.Minute), nil))
	run, err = conn.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.True(t, run.FinishedAt.Valid)
	assert.True(t, run.FinishedAt.Time.Equal(t0.Add(time.Minute)))
}

func TestFinishFailedRun(t *testing.T) {
	conn := openTest(t)
	ctx := context.Background()
	id, err := conn.Begin(ctx, "intro", t0)
	require.NoError(t, err)

	runErr := &demoreel.TimeoutError{Template: demoreel.Template{Name: "create"}, Timeout: 2 * time.Second, Elapsed: 2 * time.Second}
	require.NoError(t, conn.Finish(ctx, id, t0, runErr))

	run, err := conn.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, runErr.Error(), run.Error)
}

func TestUnknownRun(t *testing.T) {
	conn := openTest(t)
	ctx := context.Background()

	_, err := conn.Run(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownRun)
	assert.ErrorIs(t, conn.Finish(ctx, "nope", t0, nil), ErrUnknownRun)
}

func TestRecorderJournalsEvents(t *testing.T) {
	conn := openTest(t)
	ctx := context.Background()
	id, err := conn.Begin(ctx, "intro", t0)
	require.NoError(t, err)

	rec := conn.Recorder(ctx, id)
	rec.Notify(replay.Event{Seq: 1, Kind: replay.EventDispatch, Action: demoreel.Char('a'), Delay: 80 * time.Millisecond, At: t0})
	rec.Notify(replay.Event{Seq: 2, Kind: replay.EventWait, Template: demoreel.Template{Name: "create"}, State: "matched", Elapsed: 750 * time.Millisecond, At: t0.Add(time.Second)})
	rec.Notify(replay.Event{Seq: 3, Kind: replay.EventPause, Delay: 1500 * time.Millisecond, At: t0.Add(2 * time.Second)})
	require.NoError(t, rec.Err())

	events, err := conn.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, replay.EventDispatch, events[0].Kind)
	assert.Equal(t, `"a"`, events[0].Detail)
	assert.Equal(t, 80*time.Millisecond, events[0].Delay)
	assert.True(t, events[0].At.Equal(t0))

	assert.Equal(t, "create matched", events[1].Detail)
	assert.Equal(t, 750*time.Millisecond, events[1].Delay)
	assert.Equal(t, 3, events[2].Seq)
}

func TestRecorderKeepsFirstError(t *testing.T) {
	conn := openTest(t)
	rec := conn.Recorder(context.Background(), "missing-run")

	rec.Notify(replay.Event{Seq: 1, Kind: replay.EventPause, At: t0})
	assert.Error(t, rec.Err())

	first := rec.Err()
	rec.Notify(replay.Event{Seq: 2, Kind: replay.EventPause, At: t0})
	assert.Equal(t, first, rec.Err())
}

func TestRunsNewestFirst(t *testing.T) {
	conn := openTest(t)
	ctx := context.Background()
	older, err := conn.Begin(ctx, "intro", t0)
	require.NoError(t, err)
	newer, err := conn.Begin(ctx, "intro", t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = conn.Begin(ctx, "other", t0)
	require.NoError(t, err)

	runs, err := conn.Runs(ctx, "intro")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer, runs[0].ID)
	assert.Equal(t, older, runs[1].ID)
}
