package history

import (
	"context"
	"testing"

	"ganagram/internal/components/statepath"
	"ganagram/internal/connection"
	"ganagram/internal/template"

	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	testCases := []struct {
		post string
		slug string
	}{
		{post: "https://www.instagram.com/p/ABC123/", slug: "p_ABC123"},
		{post: "https://www.instagram.com/p/ABC123/?utm_source=ig", slug: "p_ABC123"},
		{post: "https://www.instagram.com/reel/x.y-z/", slug: "reel_x_y-z"},
		{post: "/p/ABC123", slug: "p_ABC123"},
	}

	for _, test := range testCases {
		t.Run(test.post, func(t *testing.T) {
			slug, err := Slug(test.post)
			require.NoError(t, err)
			require.Equal(t, test.slug, slug)
		})
	}

	_, err := Slug("https://www.instagram.com/")
	require.Error(t, err)
}

func TestRecordLoad(t *testing.T) {
	tracker := NewTracker(statepath.Dir{Root: t.TempDir()})

	used, err := tracker.Load("p_ABC")
	require.NoError(t, err)
	require.Equal(t, 0, used.Len())

	require.NoError(t, tracker.Record("p_ABC", []connection.Connection{"Alice"}))
	require.NoError(t, tracker.Record("p_ABC", []connection.Connection{"bob"}))

	used, err = tracker.Load("p_ABC")
	require.NoError(t, err)
	require.Equal(t, []connection.Connection{"alice", "bob"}, used.Slice())

	_, err = tracker.Load("../escape")
	require.Error(t, err)
}

func TestHistoryNeverRepeatsMentions(t *testing.T) {
	tracker := NewTracker(statepath.Dir{Root: t.TempDir()})
	require.NoError(t, tracker.Record("p_ABC", []connection.Connection{"alice"}))

	used, err := tracker.Load("p_ABC")
	require.NoError(t, err)

	tmpl, err := template.Parse("hi @")
	require.NoError(t, err)

	mentioned := map[connection.Connection]int{}
	gen := tmpl.Generate(Unused([]connection.Connection{"alice", "bob", "carol"}, used))
	for {
		comment, ok := gen.Next()
		if !ok {
			break
		}
		for _, c := range comment.Mentions {
			mentioned[c]++
		}
	}

	require.Equal(t, map[connection.Connection]int{"bob": 1, "carol": 1}, mentioned)
}

func TestLockSlug(t *testing.T) {
	tracker := NewTracker(statepath.Dir{Root: t.TempDir()})
	unlock, err := tracker.Lock(context.Background(), "p_ABC")
	require.NoError(t, err)
	require.NoError(t, unlock())
}
