// Package bot runs one ganagram session end to end: it logs in, gathers the connections to
// mention and publishes the comments, reporting progress to an observer over a channel.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"ganagram/internal/components/assert"
	"ganagram/internal/components/chrono"
	"ganagram/internal/components/linestore"
	"ganagram/internal/components/osutil"
	"ganagram/internal/components/statepath"
	"ganagram/internal/components/telemetry"
	"ganagram/internal/config"
	"ganagram/internal/connection"
	"ganagram/internal/counter"
	"ganagram/internal/driver"
	"ganagram/internal/harvester"
	"ganagram/internal/history"
	"ganagram/internal/journal"
	"ganagram/internal/pacing"
	"ganagram/internal/poster"
	"ganagram/internal/registry"
	"ganagram/internal/session"
	"ganagram/internal/template"
)

const (
	report_journal = "journal"
	report_lock    = "lock"
	report_tab     = "tab"
	report_flush   = "flush"
	report_summary = "summary"
)

// ErrFatal marks errors that abort a run and should not be retried by running again as-is:
// rejected credentials, unparseable counters or templates, exhausted retries.
var ErrFatal = errors.New("fatal")

const (
	ModePost         = "post"
	ModeSaveOnly     = "save-only"
	ModeSpecificFile = "specific-file"
)

// Authenticator logs an account in on the driver the bot was given.
type Authenticator interface {
	LogIn(ctx context.Context, username, password string) (session.Session, error)
}

type Bot struct {
	cfg      config.Config
	driver   driver.Driver
	clock    chrono.API
	tel      telemetry.API
	// baseTel is handed to components, which scope it themselves
	baseTel  telemetry.API
	auth     Authenticator
	journal  *journal.Journal
	state    statepath.Dir
	base     *url.URL
	relation registry.Relation
	template template.Template
	sampler  *pacing.Sampler
	timeout  time.Duration

	progress chan<- Progress
	summary  Summary
	runID    int64

	// restoreInterrupts is set while SIGINT is ignored
	restoreInterrupts func()
}

var suppressInterrupts = osutil.SuppressInterrupts

// New prepares a bot for cfg, which must already be valid. j may be nil to skip journaling.
func New(
	cfg config.Config,
	d driver.Driver,
	clock chrono.API,
	tel telemetry.API,
	auth Authenticator,
	j *journal.Journal,
	state statepath.Dir,
) (*Bot, error) {
	assert.NotNil(d)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotNil(auth)

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	relation, err := registry.ParseRelation(cfg.Relation)
	if err != nil {
		return nil, err
	}

	b := &Bot{
		cfg:      cfg,
		driver:   d,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("bot", tel),
		baseTel:  tel,
		auth:     auth,
		journal:  j,
		state:    state,
		base:     base,
		relation: relation,
		timeout:  cfg.TimeoutDuration(),
	}

	if !cfg.SaveOnly {
		b.template, err = template.Parse(cfg.Template)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFatal, err)
		}
		b.sampler, err = pacing.FromSeconds(cfg.Interval.Min, cfg.Interval.Max, cfg.Interval.Mode)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Bot) mode() string {
	switch {
	case b.cfg.SpecificFile != "":
		return ModeSpecificFile
	case b.cfg.SaveOnly:
		return ModeSaveOnly
	}
	return ModePost
}

// mentions reports whether the comments need connections at all.
func (b *Bot) mentions() bool {
	return b.cfg.SaveOnly || b.template.Slots() > 0
}

// Run executes the whole session, sending progress as it goes. It always finishes with a Done
// message and closes progress, whatever was discovered or confirmed before an error or a
// cancellation of ctx is already persisted by then.
func (b *Bot) Run(ctx context.Context, progress chan<- Progress) (Summary, error) {
	defer close(progress)
	defer b.releaseInterrupts()
	b.progress = progress
	b.summary = Summary{Target: string(connection.Normalize(b.cfg.Target))}

	b.startJournal(ctx)
	err := b.run(ctx)
	if ctx.Err() != nil {
		b.summary.Cancelled = true
		b.holdInterrupts()
	}
	b.summary.Err = err
	b.finishJournal(ctx)

	if err != nil && !b.summary.Cancelled {
		b.tel.ReportBroken(report_summary, err, b.summary.Target)
	}
	b.progress <- Progress{Message: b.summary.String(), Done: true, Summary: b.summary}
	return b.summary, err
}

func (b *Bot) say(format string, args ...any) {
	b.progress <- Progress{Message: fmt.Sprintf(format, args...)}
}

func (b *Bot) run(ctx context.Context) error {
	b.say("logging in as %s", b.cfg.Account.Username)
	_, err := b.auth.LogIn(ctx, b.cfg.Account.Username, b.cfg.Account.Password)
	if err != nil {
		if errors.Is(err, session.ErrRejectedCredentials) || errors.Is(err, session.ErrVerificationChallenge) {
			return fmt.Errorf("%w: log in: %w", ErrFatal, err)
		}
		return fmt.Errorf("log in: %w", err)
	}
	b.say("logged in")

	conns, err := b.gather(ctx)
	if err != nil {
		return err
	}
	if b.cfg.SaveOnly {
		return nil
	}
	return b.post(ctx, conns)
}

// gather returns the connections to mention, from a specific file or from the records of the
// target topped up by a harvest.
func (b *Bot) gather(ctx context.Context) ([]connection.Connection, error) {
	if b.cfg.SpecificFile != "" {
		err := b.template.RequireSlots()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFatal, err)
		}
		conns, err := registry.LoadFile(b.cfg.SpecificFile, b.cfg.Limit)
		if err != nil {
			return nil, fmt.Errorf("%w: load specific file: %w", ErrFatal, err)
		}
		b.summary.Known = len(conns)
		b.say("loaded %d connections from %s", len(conns), b.cfg.SpecificFile)
		return conns, nil
	}
	if !b.mentions() {
		return nil, nil
	}

	target, err := b.resolveTarget(ctx)
	if err != nil {
		return nil, err
	}

	reg := registry.New(b.state, b.relation)
	unlock, err := b.lock(ctx, reg.Lock, target)
	if err != nil {
		return nil, err
	}
	defer unlock()

	b.say("looking for the %s of %s in the records", b.relation, target)
	known, err := reg.Load(target, b.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	b.summary.Known = len(known)

	if !b.cfg.ForceFull && registry.Sufficient(known, b.cfg.Limit) {
		b.say("found %d %s in the records, no need to search", len(known), b.relation)
		return known, nil
	}
	if b.cfg.Limit > 0 {
		b.say("got %d/%d %s from the records, still missing some", len(known), b.cfg.Limit, b.relation)
	}
	b.say("searching the %s of %s", b.relation, target)

	res, err := b.harvest(ctx, target, known)
	b.summary.Discovered = len(res.New)
	if len(res.New) > 0 {
		flushErr := b.flush(ctx, func() error {
			return reg.Append(target, res.New)
		})
		if flushErr != nil {
			return nil, fmt.Errorf("save connections: %w", flushErr)
		}
	}
	if err != nil {
		if errors.Is(err, counter.ErrUnparseable) {
			return nil, fmt.Errorf("%w: harvest %s: %w", ErrFatal, target, err)
		}
		return nil, fmt.Errorf("harvest %s: %w", target, err)
	}

	b.say(
		"found %d new %s, the records now hold %d",
		len(res.New), b.relation, len(known)+len(res.New),
	)
	return res.Connections, nil
}

func (b *Bot) resolveTarget(ctx context.Context) (string, error) {
	if b.summary.Target != "" {
		return b.summary.Target, nil
	}

	b.say("looking for the owner of the post")
	h := harvester.New(b.driver, b.clock, b.baseTel, b.base, b.timeout)
	owner, err := h.ResolveOwner(ctx, b.cfg.Post)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", ErrFatal, err)
	}
	b.summary.Target = string(owner)
	b.say("the post belongs to %s", owner.Display())

	if b.runID != 0 {
		err = b.journal.UpdateTarget(ctx, b.runID, b.summary.Target)
		if err != nil {
			b.tel.ReportWarning(report_journal, err, b.runID)
		}
	}
	return b.summary.Target, nil
}

// harvest runs in a tab of its own when comments follow, so the post stays loaded.
func (b *Bot) harvest(ctx context.Context, target string, known []connection.Connection) (harvester.Result, error) {
	d := b.driver
	if !b.cfg.SaveOnly {
		tab, err := b.driver.NewTab(ctx)
		if err != nil {
			return harvester.Result{}, fmt.Errorf("open tab: %w", err)
		}
		defer func() {
			err := tab.Close()
			if err != nil {
				b.tel.ReportWarning(report_tab, err)
			}
		}()
		d = tab
	}

	h := harvester.New(d, b.clock, b.baseTel, b.base, b.timeout)
	return h.Harvest(ctx, harvester.Options{
		Target:    target,
		Relation:  b.relation,
		Limit:     b.cfg.Limit,
		ForceFull: b.cfg.ForceFull,
		Known:     known,
	})
}

func (b *Bot) post(ctx context.Context, conns []connection.Connection) error {
	slug, err := history.Slug(b.cfg.Post)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	tracker := history.NewTracker(b.state)
	unlock, err := b.lock(ctx, tracker.Lock, slug)
	if err != nil {
		return err
	}
	defer unlock()

	available := conns
	if b.template.Slots() > 0 {
		used, err := tracker.Load(slug)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		available = history.Unused(conns, used)
		if skipped := len(conns) - len(available); skipped > 0 {
			b.say("skipping %d connections already mentioned on this post", skipped)
		}
	}
	b.summary.Available = len(available)

	gen := b.template.Generate(available)
	b.summary.Planned = gen.Remaining()
	if gen.Remaining() == 0 {
		b.say("not enough connections left to fill a single comment")
		return nil
	}
	b.say("commenting %d times on %s", gen.Remaining(), b.cfg.Post)

	p := poster.New(b.driver, b.clock, b.baseTel, tracker, poster.Options{
		Timeout:    b.timeout,
		MaxRetries: b.cfg.MaxRetries,
		Sampler:    b.sampler,
		OnAttempt:  b.onAttempt(ctx),
	})
	stats, err := p.Post(ctx, b.cfg.Post, slug, gen)
	b.summary.Attempts = stats.Attempts
	b.summary.Confirmed = stats.Successes
	b.summary.Failed = stats.Failures
	if err != nil {
		if errors.Is(err, poster.ErrSubmissionFailed) {
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		return err
	}
	b.say("sent every comment possible, %d in total", stats.Successes)
	return nil
}

func (b *Bot) onAttempt(ctx context.Context) func(poster.Attempt) {
	// attempts are journaled even while the run is being stopped
	ctx = context.WithoutCancel(ctx)
	return func(a poster.Attempt) {
		if a.Outcome == poster.Confirmed {
			b.say("comment %d sent: %s", a.Number, a.Text)
		} else {
			b.say("attempt %d failed: %v", a.Number, a.Err)
		}
		if b.runID == 0 {
			return
		}

		entry := journal.Attempt{
			Number:   a.Number,
			At:       b.clock.Now(),
			Outcome:  a.Outcome.String(),
			Duration: a.Duration,
			Injected: a.Injected,
		}
		for _, m := range a.Mentions {
			entry.Mentions = append(entry.Mentions, string(m))
		}
		if a.Err != nil {
			entry.Error = a.Err.Error()
		}
		err := b.journal.RecordAttempt(ctx, b.runID, entry)
		if err != nil {
			b.tel.ReportWarning(report_journal, err, b.runID)
		}
	}
}

type lockFunc func(ctx context.Context, key string) (unlock func() error, err error)

// lock waits at most one call timeout for another run to release key.
func (b *Bot) lock(ctx context.Context, lock lockFunc, key string) (unlock func(), err error) {
	lockCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	release, err := lock(lockCtx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, linestore.ErrLocked) {
			return nil, fmt.Errorf("%w: %s is in use by another run: %w", ErrFatal, key, err)
		}
		return nil, err
	}
	return func() {
		err := release()
		if err != nil {
			b.tel.ReportWarning(report_lock, err, key)
		}
	}, nil
}

// flush persists progress. Once the run is being stopped a second interrupt is ignored until
// the write is done.
// holdInterrupts ignores SIGINT for the rest of a cancelled run, a second Ctrl+C must not cut
// the flush of what was gathered or the final summary.
func (b *Bot) holdInterrupts() {
	if b.restoreInterrupts == nil {
		b.restoreInterrupts = suppressInterrupts()
	}
}

func (b *Bot) releaseInterrupts() {
	if b.restoreInterrupts != nil {
		b.restoreInterrupts()
		b.restoreInterrupts = nil
	}
}

func (b *Bot) flush(ctx context.Context, write func() error) error {
	if ctx.Err() != nil {
		b.holdInterrupts()
	}
	err := write()
	if err != nil {
		b.tel.ReportBroken(report_flush, err)
	}
	return err
}

func (b *Bot) startJournal(ctx context.Context) {
	if b.journal == nil {
		return
	}
	id, err := b.journal.StartRun(ctx, journal.Run{
		Username: b.cfg.Account.Username,
		Target:   b.summary.Target,
		Post:     b.cfg.Post,
		Relation: string(b.relation),
		Mode:     b.mode(),
	})
	if err != nil {
		b.tel.ReportWarning(report_journal, err)
		return
	}
	b.runID = id
}

func (b *Bot) finishJournal(ctx context.Context) {
	if b.runID == 0 {
		return
	}

	run := journal.Run{
		Status:     journal.StatusCompleted,
		Discovered: b.summary.Discovered,
		Confirmed:  b.summary.Confirmed,
		Failed:     b.summary.Failed,
	}
	switch {
	case b.summary.Cancelled:
		run.Status = journal.StatusCancelled
	case b.summary.Err != nil:
		run.Status = journal.StatusFailed
	}
	if b.summary.Err != nil {
		run.Error = b.summary.Err.Error()
	}

	// flush reports the failure, the run itself is over either way
	_ = b.flush(ctx, func() error {
		return b.journal.FinishRun(context.WithoutCancel(ctx), b.runID, run)
	})
}
