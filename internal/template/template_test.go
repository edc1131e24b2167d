package template

import (
	"testing"

	"ganagram/internal/connection"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func collect(g *Generator) []GeneratedComment {
	var out []GeneratedComment
	for {
		c, ok := g.Next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

func TestParse(t *testing.T) {
	table := []struct {
		input     string
		fragments []string
	}{
		{input: "Hello @ and @!", fragments: []string{"Hello ", " and ", "!"}},
		{input: "no mentions", fragments: []string{"no mentions"}},
		{input: `mail me\@home @`, fragments: []string{"mail me@home ", ""}},
		{input: "@@", fragments: []string{"", "", ""}},
	}

	for _, row := range table {
		tpl, err := Parse(row.input)
		require.NoError(t, err)
		if diff := cmp.Diff(row.fragments, tpl.Fragments); diff != "" {
			t.Fatalf("%q: fragments mismatch (-want +got):\n%s", row.input, diff)
		}
		require.Equal(t, len(tpl.Fragments)-1, tpl.Slots())
	}

	_, err := Parse("   ")
	require.ErrorIs(t, err, ErrUnparseable)
}

func TestHasMention(t *testing.T) {
	require.True(t, HasMention("hi @"))
	require.False(t, HasMention(`hi \@you`))
	require.False(t, HasMention("hi"))
}

func TestGenerateDropsRemainder(t *testing.T) {
	tpl, err := Parse("Hello @ and @!")
	require.NoError(t, err)

	gen := tpl.Generate([]connection.Connection{"a", "b", "c", "d", "e"})
	require.Equal(t, 2, gen.Remaining())

	expected := []GeneratedComment{
		{Text: "Hello @a and @b!", Mentions: []connection.Connection{"a", "b"}},
		{Text: "Hello @c and @d!", Mentions: []connection.Connection{"c", "d"}},
	}
	if diff := cmp.Diff(expected, collect(gen)); diff != "" {
		t.Fatalf("comments mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 0, gen.Remaining())
}

func TestGenerateWithoutSlots(t *testing.T) {
	tpl, err := Parse(`Good luck everyone \@home`)
	require.NoError(t, err)
	require.ErrorIs(t, tpl.RequireSlots(), ErrNoSlots)

	comments := collect(tpl.Generate([]connection.Connection{"a", "b"}))
	require.Len(t, comments, 1)
	require.Equal(t, "Good luck everyone @home", comments[0].Text)
	require.Empty(t, comments[0].Mentions)
}

func TestGenerateNotEnoughConnections(t *testing.T) {
	tpl, err := Parse("@ @ @")
	require.NoError(t, err)
	require.Empty(t, collect(tpl.Generate([]connection.Connection{"a", "b"})))
}

func TestComposeMatchRoundTrip(t *testing.T) {
	templates := []string{"Hello @ and @!", "@", "@ @ @", `win \@ with @, @ and @ !!`}
	pool := []connection.Connection{"alice", "bob.smith", "carol_", "dave99"}

	for _, raw := range templates {
		tpl, err := Parse(raw)
		require.NoError(t, err)

		group := pool[:tpl.Slots()]
		text, err := tpl.Compose(group)
		require.NoError(t, err)

		recovered, ok := tpl.Match(text)
		require.True(t, ok, text)
		require.Equal(t, group, recovered, text)
	}
}
