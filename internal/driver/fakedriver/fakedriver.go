// Package fakedriver is a programmable in-memory driver.Driver. A Site holds the routes and
// cookies of a simulated application, each route installs element and script handlers on the
// tab that navigates to it.
package fakedriver

import (
	"context"
	"fmt"
	"sync/atomic"

	"ganagram/internal/driver"
)

// Element is a simulated element, unset callbacks fall back to plain input behavior.
type Element struct {
	Label string
	Attrs map[string]string
	Input string

	OnClick func() error
	// OnType replaces appending text to Input.
	OnType func(text string) error
	OnKey  func(key string) error
}

func (e *Element) Text(context.Context) (string, error) {
	return e.Label, nil
}

func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	value, ok := e.Attrs[name]
	return value, ok, nil
}

func (e *Element) Value(context.Context) (string, error) {
	return e.Input, nil
}

// Site is the simulated application, it is shared by every tab opened on it.
type Site struct {
	routes  map[string]func(tab *Tab)
	cookies map[string]driver.Cookie

	// Opened counts tabs ever opened, Closed counts tabs closed.
	Opened int
	Closed int
}

func NewSite() *Site {
	return &Site{
		routes:  map[string]func(tab *Tab){},
		cookies: map[string]driver.Cookie{},
	}
}

// Route installs setup as the content of url, it runs on every navigation or reload.
func (s *Site) Route(url string, setup func(tab *Tab)) {
	s.routes[url] = setup
}

// SetCookie sets a cookie without going through a tab.
func (s *Site) SetCookie(c driver.Cookie) {
	s.cookies[c.Name] = c
}

// CookieValue returns the value of a cookie, empty when unset.
func (s *Site) CookieValue(name string) string {
	return s.cookies[name].Value
}

// Open returns a new tab on about:blank.
func (s *Site) Open() *Tab {
	s.Opened++
	return &Tab{
		site:     s,
		url:      "about:blank",
		elements: map[driver.Locator]func() []driver.Element{},
		scripts:  map[string]func(args []any) (any, error){},
	}
}

// Tab implements driver.Driver, it panics when two calls overlap.
type Tab struct {
	site     *Site
	url      string
	elements map[driver.Locator]func() []driver.Element
	scripts  map[string]func(args []any) (any, error)
	closed   bool
	busy     atomic.Bool

	// Log records every capability call in order.
	Log []string
}

// Handle makes Find(loc) return whatever fn returns at the time of the call.
func (t *Tab) Handle(loc driver.Locator, fn func() []driver.Element) {
	t.elements[loc] = fn
}

// HandleElements makes Find(loc) always return els.
func (t *Tab) HandleElements(loc driver.Locator, els ...*Element) {
	t.elements[loc] = func() []driver.Element {
		out := make([]driver.Element, len(els))
		for i, e := range els {
			out[i] = e
		}
		return out
	}
}

// Unhandle makes Find(loc) return nothing.
func (t *Tab) Unhandle(loc driver.Locator) {
	delete(t.elements, loc)
}

// HandleScript makes ExecuteScript(script, ...) call fn.
func (t *Tab) HandleScript(script string, fn func(args []any) (any, error)) {
	t.scripts[script] = fn
}

// Redirect moves the tab to url as if the site navigated on its own, it is meant to be called
// from element callbacks.
func (t *Tab) Redirect(url string) {
	t.url = url
	t.load()
}

func (t *Tab) enter(call string) func() {
	if !t.busy.CompareAndSwap(false, true) {
		panic("fakedriver: overlapping calls on a single-owner driver")
	}
	t.Log = append(t.Log, call)
	return func() { t.busy.Store(false) }
}

func (t *Tab) load() {
	t.elements = map[driver.Locator]func() []driver.Element{}
	t.scripts = map[string]func(args []any) (any, error){}
	if setup, ok := t.site.routes[t.url]; ok {
		setup(t)
	}
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	defer t.enter("navigate " + url)()
	if err := ctx.Err(); err != nil {
		return err
	}
	t.url = url
	t.load()
	return nil
}

func (t *Tab) Reload(ctx context.Context) error {
	defer t.enter("reload")()
	if err := ctx.Err(); err != nil {
		return err
	}
	t.load()
	return nil
}

func (t *Tab) CurrentURL() string {
	return t.url
}

func (t *Tab) Find(ctx context.Context, loc driver.Locator) ([]driver.Element, error) {
	defer t.enter("find " + string(loc))()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fn, ok := t.elements[loc]
	if !ok {
		return nil, nil
	}
	return fn(), nil
}

func (t *Tab) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	defer t.enter("script")()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fn, ok := t.scripts[script]
	if !ok {
		return nil, fmt.Errorf("fakedriver: unhandled script %.40q", script)
	}
	return fn(args)
}

func element(el driver.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok {
		return nil, fmt.Errorf("fakedriver: foreign element %T", el)
	}
	return e, nil
}

func (t *Tab) Click(ctx context.Context, el driver.Element) error {
	defer t.enter("click")()
	e, err := element(el)
	if err != nil {
		return err
	}
	if e.OnClick != nil {
		return e.OnClick()
	}
	return nil
}

func (t *Tab) TypeText(ctx context.Context, el driver.Element, text string) error {
	defer t.enter("type")()
	e, err := element(el)
	if err != nil {
		return err
	}
	if e.OnType != nil {
		return e.OnType(text)
	}
	e.Input += text
	return nil
}

func (t *Tab) PressKey(ctx context.Context, el driver.Element, key string) error {
	defer t.enter("key " + key)()
	e, err := element(el)
	if err != nil {
		return err
	}
	if e.OnKey != nil {
		return e.OnKey(key)
	}
	return nil
}

func (t *Tab) Cookie(ctx context.Context, name string) (driver.Cookie, bool, error) {
	defer t.enter("cookie " + name)()
	c, ok := t.site.cookies[name]
	return c, ok, nil
}

func (t *Tab) SetCookie(ctx context.Context, c driver.Cookie) error {
	defer t.enter("set-cookie " + c.Name)()
	t.site.cookies[c.Name] = c
	return nil
}

func (t *Tab) NewTab(ctx context.Context) (driver.Driver, error) {
	defer t.enter("new-tab")()
	return t.site.Open(), nil
}

func (t *Tab) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.site.Closed++
	return nil
}

var _ driver.Driver = (*Tab)(nil)
