package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ganagram/internal/components/chrono"
)

// PollInterval is how often a wait re-checks its condition.
const PollInterval = 250 * time.Millisecond

// Condition is checked by WaitUntil, returning ErrTransientUI or ErrNotFound counts as "not yet".
type Condition func(ctx context.Context) (bool, error)

// WaitUntil blocks until cond holds, returning ErrTimeout once timeout has passed on clock.
func WaitUntil(ctx context.Context, clock chrono.API, timeout time.Duration, cond Condition) error {
	deadline := clock.Now().Add(timeout)
	for {
		ok, err := cond(ctx)
		if err != nil && !errors.Is(err, ErrTransientUI) && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil && ok {
			return nil
		}
		if !clock.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		err = clock.Sleep(ctx, PollInterval)
		if err != nil {
			return err
		}
	}
}

// WaitFor blocks until at least one element matches loc and returns the matches.
func WaitFor(ctx context.Context, clock chrono.API, d Driver, loc Locator, timeout time.Duration) ([]Element, error) {
	var elements []Element
	err := WaitUntil(ctx, clock, timeout, func(ctx context.Context) (bool, error) {
		found, err := d.Find(ctx, loc)
		if err != nil {
			return false, err
		}
		elements = found
		return len(found) > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", loc, err)
	}
	return elements, nil
}

// WaitGone blocks until nothing matches loc.
func WaitGone(ctx context.Context, clock chrono.API, d Driver, loc Locator, timeout time.Duration) error {
	err := WaitUntil(ctx, clock, timeout, func(ctx context.Context) (bool, error) {
		found, err := d.Find(ctx, loc)
		if err != nil {
			return false, err
		}
		return len(found) == 0, nil
	})
	if err != nil {
		return fmt.Errorf("wait for %s to disappear: %w", loc, err)
	}
	return nil
}
