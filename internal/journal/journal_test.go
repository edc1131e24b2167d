package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ganagram/internal/components/chrono"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestJournal(t *testing.T) {
	ctx := context.Background()
	clock := chrono.NewFakeImpl(time.Unix(1700000000, 0))

	j, err := Open(":memory:", clock)
	require.NoError(t, err)
	defer j.Close()

	id, err := j.StartRun(ctx, Run{Username: "me", Post: "https://www.instagram.com/p/ABC/", Relation: "followers", Mode: "run"})
	require.NoError(t, err)
	require.NoError(t, j.UpdateTarget(ctx, id, "owner"))

	clock.Advance(time.Minute)
	require.NoError(t, j.RecordAttempt(ctx, id, Attempt{
		Number:   1,
		Outcome:  "failed",
		Duration: 1500 * time.Millisecond,
		Mentions: []string{"a", "b"},
		Error:    "timed out",
	}))
	require.NoError(t, j.RecordAttempt(ctx, id, Attempt{
		Number:   2,
		Outcome:  "confirmed",
		Duration: 2 * time.Second,
		Mentions: []string{"a", "b"},
		Injected: true,
	}))

	clock.Advance(time.Minute)
	require.NoError(t, j.FinishRun(ctx, id, Run{Status: StatusCompleted, Discovered: 4, Confirmed: 1, Failed: 1}))

	runs, err := j.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	require.Equal(t, "owner", run.Target)
	require.Equal(t, StatusCompleted, run.Status)
	require.Equal(t, time.Unix(1700000000, 0), run.StartedAt)
	require.Equal(t, time.Unix(1700000120, 0), run.FinishedAt)
	require.Equal(t, 4, run.Discovered)

	attempts, err := j.Attempts(ctx, id)
	require.NoError(t, err)
	expected := []Attempt{
		{Number: 1, At: time.Unix(1700000060, 0), Outcome: "failed", Duration: 1500 * time.Millisecond, Mentions: []string{"a", "b"}, Error: "timed out"},
		{Number: 2, At: time.Unix(1700000060, 0), Outcome: "confirmed", Duration: 2 * time.Second, Mentions: []string{"a", "b"}, Injected: true},
	}
	if diff := cmp.Diff(expected, attempts); diff != "" {
		t.Fatal(diff)
	}
}

func TestRecentRunsOrder(t *testing.T) {
	ctx := context.Background()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), chrono.NewFakeImpl(time.Unix(0, 0)))
	require.NoError(t, err)
	defer j.Close()

	for _, mode := range []string{"harvest", "run", "run"} {
		_, err := j.StartRun(ctx, Run{Username: "me", Mode: mode})
		require.NoError(t, err)
	}

	runs, err := j.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, int64(3), runs[0].ID)
	require.Equal(t, StatusRunning, runs[0].Status)
	require.True(t, runs[0].FinishedAt.IsZero())
}
