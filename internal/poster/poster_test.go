package poster

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"ganagram/internal/components/chrono"
	"ganagram/internal/components/telemetry"
	"ganagram/internal/connection"
	"ganagram/internal/driver/fakedriver"
	"ganagram/internal/pacing"
	"ganagram/internal/template"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type memoryHistory struct {
	mu      sync.Mutex
	records map[string][]connection.Connection
}

func (m *memoryHistory) Record(slug string, conns []connection.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = map[string][]connection.Connection{}
	}
	m.records[slug] = append(m.records[slug], conns...)
	return nil
}

type fixture struct {
	sim      *simPost
	tab      *fakedriver.Tab
	clock    *chrono.FakeImpl
	history  *memoryHistory
	attempts []Attempt
	poster   *Poster
}

func newFixture(t *testing.T, sim *simPost, maxRetries int) *fixture {
	t.Helper()

	site := fakedriver.NewSite()
	sim.install(site)

	sampler, err := pacing.NewSampler(time.Second, 3*time.Second, 2*time.Second, rand.NewSource(1))
	require.NoError(t, err)

	f := &fixture{
		sim:     sim,
		tab:     site.Open(),
		clock:   chrono.NewFakeImpl(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		history: &memoryHistory{},
	}
	f.poster = New(f.tab, f.clock, telemetry.NewMemoryAPI(), f.history, Options{
		Timeout:    10 * time.Second,
		MaxRetries: maxRetries,
		Sampler:    sampler,
		OnAttempt: func(a Attempt) {
			stats := f.poster.Stats()
			require.Equal(t, stats.Attempts, stats.Successes+stats.Failures)
			require.Equal(t, stats.Attempts, a.Number)
			f.attempts = append(f.attempts, a)
		},
	})
	return f
}

func generate(t *testing.T, raw string, handles ...string) *template.Generator {
	t.Helper()
	tmpl, err := template.Parse(raw)
	require.NoError(t, err)
	conns := make([]connection.Connection, len(handles))
	for i, h := range handles {
		conns[i] = connection.Connection(h)
	}
	return tmpl.Generate(conns)
}

func TestPostEndToEnd(t *testing.T) {
	f := newFixture(t, &simPost{}, 3)

	stats, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "Hello @ and @!", "a", "b", "c", "d", "e"))
	require.NoError(t, err)

	require.Equal(t, []string{"Hello @a and @b!", "Hello @c and @d!"}, f.sim.published)
	require.Equal(t, Stats{Attempts: 2, Successes: 2}, stats)
	require.Zero(t, f.sim.emoji)

	expected := map[string][]connection.Connection{"p_ABC": {"a", "b", "c", "d"}}
	if diff := cmp.Diff(expected, f.history.records); diff != "" {
		t.Fatal(diff)
	}

	var pacingSleeps int
	for _, d := range f.clock.Slept() {
		if d >= time.Second {
			require.LessOrEqual(t, int64(d), int64(3*time.Second))
			pacingSleeps++
		}
	}
	require.Equal(t, 1, pacingSleeps)
}

func TestPostWithoutMentions(t *testing.T) {
	f := newFixture(t, &simPost{}, 3)

	stats, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "nice \\@ post", "a", "b"))
	require.NoError(t, err)
	require.Equal(t, []string{"nice @ post"}, f.sim.published)
	require.Equal(t, 1, stats.Successes)
	require.Empty(t, f.history.records)
}

func TestPostRetryCeiling(t *testing.T) {
	sim := &simPost{outcomes: []submitOutcome{outcomeStuck, outcomeStuck, outcomeStuck, outcomeStuck}}
	f := newFixture(t, sim, 3)

	stats, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "hi @", "a", "b"))
	require.ErrorIs(t, err, ErrSubmissionFailed)
	require.Equal(t, Stats{Attempts: 3, Failures: 3, ConsecutiveFailures: 3}, stats)
	require.Equal(t, 3, sim.submits)
	require.Len(t, sim.typed, 1, "a non-empty input is resubmitted without typing again")
	require.Empty(t, sim.published)
	require.Empty(t, f.history.records)

	var retries []time.Duration
	for _, d := range f.clock.Slept() {
		if d >= retryInitial {
			retries = append(retries, d)
		}
	}
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, retries)

	for _, a := range f.attempts {
		require.Equal(t, Failed, a.Outcome)
		require.Error(t, a.Err)
	}
}

func TestPostRetryRecovers(t *testing.T) {
	sim := &simPost{outcomes: []submitOutcome{outcomeStuck}}
	f := newFixture(t, sim, 3)

	stats, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "hi @", "a"))
	require.NoError(t, err)
	require.Equal(t, Stats{Attempts: 2, Successes: 1, Failures: 1}, stats)
	require.Equal(t, []string{"hi @a"}, sim.published)
	require.Len(t, sim.typed, 1)
	require.Equal(t, []State{Failed, Confirmed}, []State{f.attempts[0].Outcome, f.attempts[1].Outcome})
}

func TestPostInputEmptiedExternally(t *testing.T) {
	sim := &simPost{outcomes: []submitOutcome{outcomeSpin}}
	f := newFixture(t, sim, 3)
	f.clock.OnSleep(func(d time.Duration) {
		// the request is dropped while waiting to retry: spinner gone, text gone, nothing posted
		if d >= retryInitial && sim.loading {
			sim.loading = false
			sim.input.Input = ""
		}
	})

	stats, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "hi @", "a"))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failures)
	require.Equal(t, 1, stats.Successes)
	require.Equal(t, []string{"hi @a", "hi @a"}, sim.typed)
	require.Equal(t, []string{"hi @a"}, sim.published)
}

func TestPostInjectionFallback(t *testing.T) {
	sim := &simPost{rejectRun: "\U0001F389"}
	f := newFixture(t, sim, 3)

	_, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "party \U0001F389 @", "a"))
	require.NoError(t, err)
	require.Equal(t, []string{Placeholder}, sim.typed)
	require.Equal(t, []string{"party \U0001F389 @a"}, sim.published)
	require.True(t, f.attempts[0].Injected)
	require.Equal(t, 1, sim.clears, "the refused text is cleared before the placeholder")
	require.Empty(t, sim.override)
}

func TestPostInjectionReinstalledOnRetry(t *testing.T) {
	sim := &simPost{rejectRun: "\U0001F389", outcomes: []submitOutcome{outcomeSpin}}
	f := newFixture(t, sim, 3)
	f.clock.OnSleep(func(d time.Duration) {
		// the request fails while waiting to retry, the input keeps the placeholder
		if d >= retryInitial && sim.loading {
			sim.loading = false
		}
	})

	_, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "party \U0001F389 @", "a"))
	require.NoError(t, err)
	require.Equal(t, 2, sim.submits)
	require.Equal(t, []string{Placeholder}, sim.typed)
	require.Equal(t, []string{"party \U0001F389 @a"}, sim.published)
	require.True(t, f.attempts[1].Injected)
}

func TestPostInjectionRestoredAfterGivingUp(t *testing.T) {
	sim := &simPost{rejectRun: "\U0001F389", outcomes: []submitOutcome{outcomeStuck, outcomeStuck}}
	f := newFixture(t, sim, 2)
	ctx := context.Background()

	_, err := f.poster.Post(ctx, testPost, "p_ABC", generate(t, "party \U0001F389 @", "a"))
	require.ErrorIs(t, err, ErrSubmissionFailed)
	require.Empty(t, sim.override)

	// the stuck placeholder is discarded by hand before posting again
	sim.input.Input = ""
	_, err = f.poster.Post(ctx, testPost, "p_ABC", generate(t, "plain @", "b"))
	require.NoError(t, err)
	require.Equal(t, []string{"plain @b"}, sim.published)
}

func TestPostEntryFailureDiscardsPartialText(t *testing.T) {
	sim := &simPost{rejectRun: "\U0001F389", overrideFailures: 1}
	f := newFixture(t, sim, 3)

	stats, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "party \U0001F389 @", "a"))
	require.NoError(t, err)
	require.Equal(t, Stats{Attempts: 2, Successes: 1, Failures: 1}, stats)
	require.Equal(t, 1, sim.submits, "the partly typed text is never submitted")
	require.Equal(t, []string{"party \U0001F389 @a"}, sim.published)
	require.False(t, f.attempts[0].Injected)
	require.True(t, f.attempts[1].Injected)
}

func TestPostEntryFailureNeverSubmits(t *testing.T) {
	sim := &simPost{rejectRun: "\U0001F389", overrideFailures: 3}
	f := newFixture(t, sim, 3)

	stats, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "party \U0001F389 @", "a"))
	require.ErrorIs(t, err, ErrSubmissionFailed)
	require.Equal(t, 3, stats.Failures)
	require.Zero(t, sim.submits)
	require.Empty(t, sim.input.Input)
	require.Empty(t, sim.published)
	require.Empty(t, f.history.records)
}

func TestPostEnterFallback(t *testing.T) {
	sim := &simPost{noButton: true}
	f := newFixture(t, sim, 3)

	_, err := f.poster.Post(context.Background(), testPost, "p_ABC", generate(t, "hi @", "a"))
	require.NoError(t, err)
	require.Equal(t, []string{"hi @a"}, sim.published)
	require.Zero(t, sim.emoji)
}

func TestPostCancelledWhilePacing(t *testing.T) {
	sim := &simPost{}
	f := newFixture(t, sim, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.OnSleep(func(d time.Duration) {
		if d >= time.Second {
			cancel()
		}
	})

	stats, err := f.poster.Post(ctx, testPost, "p_ABC", generate(t, "hi @", "a", "b", "c"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, stats.Successes)
	require.Equal(t, []connection.Connection{"a"}, f.history.records["p_ABC"])
}

func TestPickSubmit(t *testing.T) {
	ctx := context.Background()
	emoji := &fakedriver.Element{Attrs: map[string]string{"aria-label": "Emoji"}}
	icon := &fakedriver.Element{}
	publish := &fakedriver.Element{Label: "Publicar"}
	post := &fakedriver.Element{Label: "Post", Attrs: map[string]string{"type": "submit"}}

	picked, err := pickSubmit(ctx, toElements(emoji, icon, publish, post))
	require.NoError(t, err)
	require.Same(t, post, picked)

	picked, err = pickSubmit(ctx, toElements(emoji, publish))
	require.NoError(t, err)
	require.Same(t, publish, picked)

	_, err = pickSubmit(ctx, toElements(emoji, icon))
	require.Error(t, err)
}
