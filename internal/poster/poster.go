// Package poster publishes generated comments on a post, confirming each one against the page
// before moving on.
package poster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ganagram/internal/components/assert"
	"ganagram/internal/components/chrono"
	"ganagram/internal/components/telemetry"
	"ganagram/internal/connection"
	"ganagram/internal/driver"
	"ganagram/internal/pacing"
	"ganagram/internal/template"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	report_enter    = "enter"
	report_clear    = "clear"
	report_inject   = "inject"
	report_submit   = "submit"
	report_confirm  = "confirm"
	report_history  = "history"
	report_give_up  = "give-up"
	report_metrics  = "metrics"
	report_comments = "comments-confirmed"
)

var tracer = otel.Tracer("ganagram/internal/poster")

// ErrSubmissionFailed is returned when a comment could not be confirmed within the retry
// ceiling, everything confirmed before it stays recorded.
var ErrSubmissionFailed = errors.New("comment submission failed")

// Placeholder is typed in place of a comment whose text was injected into the submission
// request because the input surface would not accept it.
const Placeholder = "Info: the real comment was sent successfully. This input cannot display " +
	"some of its characters, but the comment was published."

const (
	DefaultMaxRetries = 5
	retryInitial      = 2 * time.Second
	retryMax          = 60 * time.Second
)

// HistoryRecorder durably records who a confirmed comment mentioned.
type HistoryRecorder interface {
	Record(slug string, conns []connection.Connection) error
}

type Options struct {
	// Timeout bounds every wait on the page.
	Timeout time.Duration
	// MaxRetries is the number of attempts a single comment gets before posting gives up, an
	// attempt runs from writing or resubmitting the comment to confirming it.
	MaxRetries int
	// Sampler spaces out confirmed comments.
	Sampler *pacing.Sampler
	// OnAttempt is called after every submission, confirmed or failed.
	OnAttempt func(Attempt)
}

type Poster struct {
	driver  driver.Driver
	clock   chrono.API
	tel     telemetry.API
	history HistoryRecorder
	opts    Options

	stats     Stats
	confirmed metric.Int64Counter
	failed    metric.Int64Counter
}

func New(d driver.Driver, clock chrono.API, tel telemetry.API, history HistoryRecorder, opts Options) *Poster {
	assert.NotNil(d)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotNil(history)
	assert.NotNil(opts.Sampler)

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	scoped := telemetry.NewScopedAPI("poster", tel)
	meter := otel.Meter("ganagram")
	confirmed, err := meter.Int64Counter("comments_confirmed", metric.WithDescription("comments confirmed on a post"))
	if err != nil {
		scoped.ReportBroken(report_metrics, err)
	}
	failed, err := meter.Int64Counter("comments_failed", metric.WithDescription("comment submissions that failed"))
	if err != nil {
		scoped.ReportBroken(report_metrics, err)
	}

	return &Poster{
		driver:    d,
		clock:     clock,
		tel:       scoped,
		history:   history,
		opts:      opts,
		confirmed: confirmed,
		failed:    failed,
	}
}

// Stats returns the attempt counters so far.
func (p *Poster) Stats() Stats {
	return p.stats
}

// Post publishes every comment gen yields on postURL, recording the mentions of each confirmed
// comment under slug before the next one is written. It stops at the first comment that
// exhausts its retries (ErrSubmissionFailed) or when ctx is done.
func (p *Poster) Post(ctx context.Context, postURL, slug string, gen *template.Generator) (Stats, error) {
	ctx, span := tracer.Start(ctx, "Post")
	defer span.End()
	span.SetAttributes(
		attribute.String("post", postURL),
		attribute.Int("comments", gen.Remaining()),
	)

	err := p.post(ctx, postURL, slug, gen)
	span.SetAttributes(
		attribute.Int("successes", p.stats.Successes),
		attribute.Int("failures", p.stats.Failures),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return p.stats, err
}

func (p *Poster) post(ctx context.Context, postURL, slug string, gen *template.Generator) error {
	if p.driver.CurrentURL() != postURL {
		err := p.driver.Navigate(ctx, postURL)
		if err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		comment, ok := gen.Next()
		if !ok {
			return nil
		}

		err := p.publish(ctx, comment)
		if err != nil {
			return err
		}

		if len(comment.Mentions) > 0 {
			err = p.history.Record(slug, comment.Mentions)
			if err != nil {
				p.tel.ReportBroken(report_history, err, slug)
				return fmt.Errorf("record history: %w", err)
			}
		}
		p.tel.ReportCount(report_comments, int64(p.stats.Successes))

		if gen.Remaining() == 0 {
			return nil
		}
		delay := p.opts.Sampler.Sample()
		p.tel.ReportDebug("waiting before the next comment", "delay", delay)
		err = p.clock.Sleep(ctx, delay)
		if err != nil {
			return err
		}
	}
}

func newRetryPolicy(maxRetries int) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitial
	bo.Multiplier = 2
	bo.MaxInterval = retryMax
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	// the first submission is not a retry
	return backoff.WithMaxRetries(bo, uint64(maxRetries-1))
}

// publish drives a single comment through its states until it is confirmed or its retries run
// out.
func (p *Poster) publish(ctx context.Context, comment template.GeneratedComment) error {
	var (
		state    = NotEntered
		failedAt State
		policy   = newRetryPolicy(p.opts.MaxRetries)
		injected = false
		started  = p.clock.Now()
		cause    error
	)
	defer func() {
		if injected {
			p.restorePayload(context.WithoutCancel(ctx))
		}
	}()
	fail := func(at State, err error) {
		failedAt, cause, state = at, err, Failed
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch state {
		case NotEntered:
			inj, err := p.enter(ctx, comment.Text)
			injected = inj
			if err != nil {
				fail(NotEntered, err)
				continue
			}
			state = Entered

		case Entered:
			err := p.submit(ctx)
			if err != nil {
				fail(Entered, err)
				continue
			}
			state = Submitted

		case Submitted:
			err := p.confirm(ctx)
			if err != nil {
				fail(Submitted, err)
				continue
			}
			p.finish(ctx, comment, Confirmed, started, nil, injected)
			return nil

		case Failed:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.finish(ctx, comment, Failed, started, cause, injected)

			wait := policy.NextBackOff()
			if wait == backoff.Stop {
				p.tel.ReportBroken(report_give_up, cause, comment.Text)
				return fmt.Errorf("%w after %d attempts: %w", ErrSubmissionFailed, p.opts.MaxRetries, cause)
			}
			err := p.clock.Sleep(ctx, wait)
			if err != nil {
				return err
			}

			started = p.clock.Now()
			next, err := p.resume(ctx, comment.Text, failedAt, injected)
			if err != nil {
				// whatever the input holds now is not the comment
				fail(NotEntered, err)
				continue
			}
			if next == NotEntered {
				injected = false
			}
			state = next
		}
	}
}

func (p *Poster) finish(ctx context.Context, comment template.GeneratedComment, outcome State, started time.Time, cause error, injected bool) {
	p.stats.record(outcome)

	counter := p.confirmed
	if outcome == Failed {
		counter = p.failed
	}
	if counter != nil {
		counter.Add(ctx, 1)
	}

	if p.opts.OnAttempt != nil {
		p.opts.OnAttempt(Attempt{
			Number:   p.stats.Attempts,
			Outcome:  outcome,
			Duration: p.clock.Now().Sub(started),
			Err:      cause,
			Text:     comment.Text,
			Mentions: comment.Mentions,
			Injected: injected,
		})
	}
}

// resume decides where a failed comment picks up. A comment that failed after it was entered is
// submitted again as long as the input still holds it, anything left behind by a failed entry is
// cleared and the comment is written from scratch.
func (p *Poster) resume(ctx context.Context, text string, failedAt State, injected bool) (State, error) {
	if failedAt != NotEntered && p.holdsText(ctx) {
		if injected {
			// the previous submission spent the rewrite
			err := p.inject(ctx, text)
			if err != nil {
				return NotEntered, err
			}
		}
		return Entered, nil
	}

	if injected {
		p.restorePayload(ctx)
	}
	if failedAt != NotEntered {
		p.tel.ReportDebug("input emptied after a failed submission, writing the comment again")
		return NotEntered, nil
	}
	return NotEntered, p.clearInput(ctx)
}

func (p *Poster) holdsText(ctx context.Context) bool {
	input, err := p.findInput(ctx)
	if err != nil {
		return false
	}
	value, err := input.Value(ctx)
	return err == nil && value != ""
}

func (p *Poster) findInput(ctx context.Context) (driver.Element, error) {
	var input driver.Element
	err := driver.WaitUntil(ctx, p.clock, p.opts.Timeout, func(ctx context.Context) (bool, error) {
		found, err := driver.FindFirst(ctx, p.driver, inputLocators...)
		if err != nil {
			return false, err
		}
		input = found[0]
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("find comment input: %w", err)
	}
	return input, nil
}

// enter writes text into the comment input. When typing fails the text is injected into the
// submission request and Placeholder is typed instead, injected reports that case. On error the
// input may hold part of what was typed.
func (p *Poster) enter(ctx context.Context, text string) (injected bool, err error) {
	input, err := p.findInput(ctx)
	if err != nil {
		p.tel.ReportBroken(report_enter, err)
		return false, err
	}
	err = p.driver.Click(ctx, input)
	if err != nil {
		p.tel.ReportDebug("focus comment input", "err", err)
	}

	err = p.driver.TypeText(ctx, input, text)
	if err == nil {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	p.tel.ReportWarning(report_inject, err)

	err = p.clearInput(ctx)
	if err != nil {
		return false, err
	}
	err = p.inject(ctx, text)
	if err != nil {
		return false, err
	}

	input, err = p.findInput(ctx)
	if err != nil {
		return true, err
	}
	err = p.driver.TypeText(ctx, input, Placeholder)
	if err != nil {
		p.tel.ReportBroken(report_enter, err)
		return true, fmt.Errorf("type placeholder: %w", err)
	}
	return true, nil
}

func (p *Poster) inject(ctx context.Context, text string) error {
	_, err := p.driver.ExecuteScript(ctx, driver.ScriptOverrideCommentPayload, text)
	if err != nil {
		p.tel.ReportBroken(report_inject, err)
		return fmt.Errorf("inject comment: %w", err)
	}
	return nil
}

func (p *Poster) restorePayload(ctx context.Context) {
	_, err := p.driver.ExecuteScript(ctx, driver.ScriptRestoreCommentPayload)
	if err != nil {
		p.tel.ReportWarning(report_inject, err)
	}
}

func (p *Poster) clearInput(ctx context.Context) error {
	selectors := make([]string, len(inputLocators))
	for i, loc := range inputLocators {
		selectors[i] = string(loc)
	}
	_, err := p.driver.ExecuteScript(ctx, driver.ScriptClearInput, selectors)
	if err != nil {
		p.tel.ReportBroken(report_clear, err)
		return fmt.Errorf("clear comment input: %w", err)
	}
	return nil
}

// submit activates the submit control of the form, or presses Enter in the input when the form
// has none.
func (p *Poster) submit(ctx context.Context) error {
	controls, err := driver.FindFirst(ctx, p.driver, submitLocators...)
	if err != nil && !errors.Is(err, driver.ErrNotFound) {
		return err
	}

	var control driver.Element
	if len(controls) > 0 {
		control, err = pickSubmit(ctx, controls)
		if err != nil && !errors.Is(err, driver.ErrNotFound) {
			return err
		}
	}

	if control != nil {
		err = p.driver.Click(ctx, control)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.tel.ReportWarning(report_submit, err)
	}

	input, err := p.findInput(ctx)
	if err != nil {
		return err
	}
	err = p.driver.PressKey(ctx, input, submitKey)
	if err != nil {
		p.tel.ReportBroken(report_submit, err)
		return fmt.Errorf("submit comment: %w", err)
	}
	return nil
}

// confirm waits for the loading indicator to clear and then for the input to empty, a comment
// is only published once both hold.
func (p *Poster) confirm(ctx context.Context) error {
	for _, loc := range loadingLocators {
		err := driver.WaitGone(ctx, p.clock, p.driver, loc, p.opts.Timeout)
		if err != nil {
			p.tel.ReportWarning(report_confirm, err)
			return err
		}
	}

	err := driver.WaitUntil(ctx, p.clock, p.opts.Timeout, func(ctx context.Context) (bool, error) {
		found, err := driver.FindFirst(ctx, p.driver, inputLocators...)
		if err != nil {
			return false, err
		}
		value, err := found[0].Value(ctx)
		if err != nil {
			return false, err
		}
		return value == "", nil
	})
	if err != nil {
		p.tel.ReportWarning(report_confirm, err)
		return fmt.Errorf("confirm comment: %w", err)
	}
	return nil
}
