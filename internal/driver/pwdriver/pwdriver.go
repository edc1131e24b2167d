// Package pwdriver implements driver.Driver on a chromium page controlled through playwright.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ganagram/internal/driver"

	"github.com/playwright-community/playwright-go"
)

// Options configures the launched browser.
type Options struct {
	// Headless hides the browser window.
	Headless bool
	// Executable is a chromium compatible binary to use instead of the bundled one.
	Executable string
	// DefaultLang keeps the browser locale instead of forcing english, the harvester reads
	// count labels in whatever language the site renders them.
	DefaultLang bool
	// Timeout bounds every single playwright call.
	Timeout time.Duration
	// Install downloads the bundled chromium when it is missing.
	Install bool
}

// Browser owns the playwright process, a browser and the context every page shares cookies
// through.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	timeout time.Duration
}

// Launch starts playwright and a chromium browser.
func Launch(opts Options) (*Browser, error) {
	if opts.Install {
		err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
		if err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.Executable != "" {
		launch.ExecutablePath = playwright.String(opts.Executable)
	}
	if opts.Headless {
		launch.Args = []string{"--disable-gpu", "--window-size=1920,1080"}
	}
	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch chromium (headless=%v): %w", opts.Headless, err)
	}

	contextOpts := playwright.BrowserNewContextOptions{}
	if !opts.DefaultLang {
		contextOpts.Locale = playwright.String("en-US")
		contextOpts.ExtraHttpHeaders = map[string]string{"Accept-Language": "en,en_US"}
	}
	if opts.Headless {
		contextOpts.Viewport = &playwright.Size{Width: 1920, Height: 1080}
	}
	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	browserCtx.SetDefaultTimeout(float64(timeout.Milliseconds()))

	return &Browser{
		pw:      pw,
		browser: browser,
		context: browserCtx,
		timeout: timeout,
	}, nil
}

// NewPage opens a page on the shared browser context.
func (b *Browser) NewPage() (*Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return &Page{page: page, context: b.context}, nil
}

// Close shuts the browser and the playwright process down.
func (b *Browser) Close() error {
	return errors.Join(
		b.context.Close(),
		b.browser.Close(),
		b.pw.Stop(),
	)
}

// Page implements driver.Driver on a single playwright page.
type Page struct {
	page    playwright.Page
	context playwright.BrowserContext
}

// element wraps an element handle of the page that found it.
type element struct {
	handle playwright.ElementHandle
}

func (e element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := e.handle.InnerText()
	return text, classify(err)
}

func (e element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	value, err := e.handle.Evaluate(`(el, name) => el.getAttribute(name)`, name)
	if err != nil {
		return "", false, classify(err)
	}
	str, ok := value.(string)
	return str, ok, nil
}

func (e element) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// textareas driven by the site keep their content in value or, for contenteditable
	// surfaces, in the text
	value, err := e.handle.Evaluate(`(el) => ("value" in el ? el.value : el.innerText) || ""`)
	if err != nil {
		return "", classify(err)
	}
	str, _ := value.(string)
	return str, nil
}

// classify maps playwright failures onto the driver error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", driver.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", driver.ErrTransientUI, err)
}

func handleOf(el driver.Element) (playwright.ElementHandle, error) {
	e, ok := el.(element)
	if !ok {
		return nil, fmt.Errorf("pwdriver: foreign element %T", el)
	}
	return e.handle, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, classify(err))
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return classify(err)
}

func (p *Page) CurrentURL() string {
	return p.page.URL()
}

func (p *Page) Find(ctx context.Context, loc driver.Locator) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handles, err := p.page.QuerySelectorAll(string(loc))
	if err != nil {
		return nil, classify(err)
	}
	elements := make([]driver.Element, len(handles))
	for i, h := range handles {
		elements[i] = element{handle: h}
	}
	return elements, nil
}

func (p *Page) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		result any
		err    error
	)
	switch len(args) {
	case 0:
		result, err = p.page.Evaluate(script)
	case 1:
		result, err = p.page.Evaluate(script, args[0])
	default:
		result, err = p.page.Evaluate(script, args)
	}
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

func (p *Page) Click(ctx context.Context, el driver.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	handle, err := handleOf(el)
	if err != nil {
		return err
	}
	return classify(handle.Click())
}

func (p *Page) TypeText(ctx context.Context, el driver.Element, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	handle, err := handleOf(el)
	if err != nil {
		return err
	}
	return classify(handle.Type(text))
}

func (p *Page) PressKey(ctx context.Context, el driver.Element, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	handle, err := handleOf(el)
	if err != nil {
		return err
	}
	return classify(handle.Press(key))
}

func (p *Page) Cookie(ctx context.Context, name string) (driver.Cookie, bool, error) {
	if err := ctx.Err(); err != nil {
		return driver.Cookie{}, false, err
	}
	cookies, err := p.context.Cookies()
	if err != nil {
		return driver.Cookie{}, false, err
	}
	for _, c := range cookies {
		if c.Name != name {
			continue
		}
		return driver.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}, true, nil
	}
	return driver.Cookie{}, false, nil
}

func (p *Page) SetCookie(ctx context.Context, c driver.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cookie := playwright.OptionalCookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   playwright.String(c.Domain),
		Path:     playwright.String(c.Path),
		HttpOnly: playwright.Bool(c.HTTPOnly),
		Secure:   playwright.Bool(c.Secure),
	}
	if c.Path == "" {
		cookie.Path = playwright.String("/")
	}
	if c.Expires > 0 {
		cookie.Expires = playwright.Float(c.Expires)
	}
	return p.context.AddCookies([]playwright.OptionalCookie{cookie})
}

func (p *Page) NewTab(ctx context.Context) (driver.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := p.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Page{page: page, context: p.context}, nil
}

func (p *Page) Close() error {
	return p.page.Close()
}

var _ driver.Driver = (*Page)(nil)
