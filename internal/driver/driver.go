// Package driver is the capability surface the bot drives a remote document through. Nothing
// above it knows which automation technology sits behind a Driver.
package driver

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an expected element is absent.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout is returned when a wait exceeded its deadline.
	ErrTimeout = errors.New("timed out")
	// ErrTransientUI is returned when a capability call lost a race with the UI state, the
	// caller is expected to retry through a fallback strategy.
	ErrTransientUI = errors.New("transient ui failure")
)

// Locator is a css selector.
type Locator string

// Element is a handle to a rendered element, it is only valid on the Driver that found it.
type Element interface {
	Text(ctx context.Context) (string, error)
	// Attribute returns the value of attribute name, false when it is not set.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Value returns the current value of an input or textarea.
	Value(ctx context.Context) (string, error)
}

// Cookie is a browser cookie, it is stored as json so sessions survive restarts.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// Driver is a single-owner handle to a remote document, callers never issue two calls against
// it concurrently.
//
// note: fault injection point
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL() string

	// Find returns every element matching loc, an empty result is not an error.
	Find(ctx context.Context, loc Locator) ([]Element, error)
	// ExecuteScript evaluates a javascript function expression, see the Script* constants.
	ExecuteScript(ctx context.Context, script string, args ...any) (any, error)

	Click(ctx context.Context, el Element) error
	TypeText(ctx context.Context, el Element, text string) error
	// PressKey sends a key (ex. "Enter") to el.
	PressKey(ctx context.Context, el Element, key string) error

	// Cookie returns the cookie called name, false when it is not set.
	Cookie(ctx context.Context, name string) (Cookie, bool, error)
	SetCookie(ctx context.Context, cookie Cookie) error

	// NewTab opens a separate page sharing cookies with this one, closing it leaves this driver
	// untouched.
	NewTab(ctx context.Context) (Driver, error)
	Close() error
}

// FindOne returns the first element matching loc or ErrNotFound.
func FindOne(ctx context.Context, d Driver, loc Locator) (Element, error) {
	elements, err := d.Find(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	return elements[0], nil
}

// FindFirst tries each locator in order and returns the matches of the first one that yields
// any, the locators are fallbacks for different shapes of the same UI.
func FindFirst(ctx context.Context, d Driver, locs ...Locator) ([]Element, error) {
	for _, loc := range locs {
		elements, err := d.Find(ctx, loc)
		if err != nil {
			return nil, err
		}
		if len(elements) > 0 {
			return elements, nil
		}
	}
	return nil, ErrNotFound
}
