// Package session logs an account into the site through a driver and keeps its session cookie
// around so later runs skip the login form.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ganagram/internal/components/assert"
	"ganagram/internal/components/chrono"
	"ganagram/internal/components/telemetry"
	"ganagram/internal/driver"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	report_consent   = "consent"
	report_restore   = "restore"
	report_login     = "login"
	report_persist   = "persist"
	report_is_active = "is-active"
)

var tracer = otel.Tracer("ganagram/internal/session")

var (
	// ErrRejectedCredentials is returned when the site refused the username or password.
	ErrRejectedCredentials = errors.New("credentials rejected")
	// ErrVerificationChallenge is returned when the site asks for an additional verification
	// step (two factor code, suspicious login check) that cannot be automated.
	ErrVerificationChallenge = errors.New("verification challenge required")
)

// CookieName is the cookie that carries an authenticated session.
const CookieName = "sessionid"

var (
	consentButtons = driver.Locator(`div[role=dialog] button`)
	loginInputs    = driver.Locator(`form input`)
	loginForm      = []driver.Locator{`input[name='username']`, `html.not-logged-in`}
	loggedInMarks  = []driver.Locator{`html.logged-in`, `a[href='/direct/inbox/']`, `svg[aria-label='Home']`}
	loginErrors    = []driver.Locator{`#slfErrorAlert`, `[data-testid='login-error-message']`, `form div[role=alert]`}

	challengePaths = []string{"/challenge", "/two_factor", "/accounts/suspended", "/auth_platform"}
)

// Session is an authenticated account.
type Session struct {
	Username string
	Cookie   driver.Cookie
}

type pageState int

const (
	stateUnknown pageState = iota
	stateLoginForm
	stateLoggedIn
	stateRejected
	stateChallenge
)

// Provider implements logging in on a driver and probing whether a session is still valid.
type Provider struct {
	driver  driver.Driver
	clock   chrono.API
	tel     telemetry.API
	store   TokenStore
	base    *url.URL
	timeout time.Duration

	http    *resty.Client
	limiter *rate.Limiter
}

func NewProvider(d driver.Driver, clock chrono.API, tel telemetry.API, store TokenStore, base *url.URL, timeout time.Duration) *Provider {
	assert.NotNil(d)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotNil(base)

	scoped := telemetry.NewScopedAPI("session", tel)

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(base.String(), "/")).
		SetTimeout(timeout).
		SetHeader("Accept-Language", "en,en_US").
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	// the probe is a bare http request, it needs browser like headers to get the same answer
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	telemetry.InstrumentResty(client, scoped)

	return &Provider{
		driver:  d,
		clock:   clock,
		tel:     scoped,
		store:   store,
		base:    base,
		timeout: timeout,
		http:    client,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// LogIn returns an authenticated session for username, reusing its stored cookie when the site
// still accepts it and filling in the login form otherwise.
func (p *Provider) LogIn(ctx context.Context, username, password string) (Session, error) {
	ctx, span := tracer.Start(ctx, "LogIn")
	defer span.End()
	span.SetAttributes(attribute.String("username", username))

	s, err := p.logIn(ctx, username, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Session{}, err
	}
	return s, nil
}

func (p *Provider) logIn(ctx context.Context, username, password string) (Session, error) {
	err := p.driver.Navigate(ctx, p.base.JoinPath("accounts", "login", "/").String())
	if err != nil {
		return Session{}, err
	}
	p.dismissConsent(ctx)

	stored, ok, err := p.store.Load(username)
	if err != nil {
		p.tel.ReportWarning(report_restore, err, username)
	}
	if ok {
		err = p.driver.SetCookie(ctx, stored)
		if err == nil {
			err = p.driver.Reload(ctx)
		}
		if err != nil {
			return Session{}, fmt.Errorf("restore session: %w", err)
		}
	}

	state, err := p.waitState(ctx, stateLoginForm, stateLoggedIn, stateChallenge)
	if err != nil {
		return Session{}, err
	}
	if state == stateLoginForm {
		if ok {
			p.tel.ReportDebug("stored session expired", "username", username)
		}
		state, err = p.fillForm(ctx, username, password)
		if err != nil {
			return Session{}, err
		}
	}

	switch state {
	case stateRejected:
		p.tel.ReportWarning(report_login, ErrRejectedCredentials, username)
		return Session{}, ErrRejectedCredentials
	case stateChallenge:
		p.tel.ReportWarning(report_login, ErrVerificationChallenge, username, p.driver.CurrentURL())
		return Session{}, fmt.Errorf("%w at %s", ErrVerificationChallenge, p.driver.CurrentURL())
	}

	cookie, found, err := p.driver.Cookie(ctx, CookieName)
	if err != nil {
		return Session{}, err
	}
	if !found {
		return Session{}, fmt.Errorf("logged in but no '%s' cookie was set", CookieName)
	}
	err = p.store.Save(username, cookie)
	if err != nil {
		p.tel.ReportBroken(report_persist, err, username)
	}
	return Session{Username: username, Cookie: cookie}, nil
}

// dismissConsent closes the cookie consent dialog, which is not shown to everyone.
func (p *Provider) dismissConsent(ctx context.Context) {
	button, err := driver.FindOne(ctx, p.driver, consentButtons)
	if err != nil {
		return
	}
	err = p.driver.Click(ctx, button)
	if err != nil {
		p.tel.ReportWarning(report_consent, err)
	}
}

func (p *Provider) fillForm(ctx context.Context, username, password string) (pageState, error) {
	inputs, err := driver.WaitFor(ctx, p.clock, p.driver, loginInputs, p.timeout)
	if err != nil {
		p.tel.ReportBroken(report_login, err)
		return stateUnknown, err
	}
	if len(inputs) < 2 {
		return stateUnknown, fmt.Errorf("%w: login form has %d inputs", driver.ErrNotFound, len(inputs))
	}

	err = p.driver.TypeText(ctx, inputs[0], username)
	if err == nil {
		err = p.driver.TypeText(ctx, inputs[1], password)
	}
	if err == nil {
		err = p.driver.PressKey(ctx, inputs[1], "Enter")
	}
	if err != nil {
		p.tel.ReportBroken(report_login, err)
		return stateUnknown, fmt.Errorf("fill login form: %w", err)
	}

	return p.waitState(ctx, stateLoggedIn, stateRejected, stateChallenge)
}

// waitState waits until the page is in one of the accepted states.
func (p *Provider) waitState(ctx context.Context, accepted ...pageState) (pageState, error) {
	var state pageState
	err := driver.WaitUntil(ctx, p.clock, p.timeout, func(ctx context.Context) (bool, error) {
		var err error
		state, err = p.readState(ctx)
		if err != nil {
			return false, err
		}
		for _, a := range accepted {
			if state == a {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return stateUnknown, fmt.Errorf("wait for login: %w", err)
	}
	return state, nil
}

func (p *Provider) readState(ctx context.Context) (pageState, error) {
	current := p.driver.CurrentURL()
	for _, path := range challengePaths {
		if strings.Contains(current, path) {
			return stateChallenge, nil
		}
	}

	present := func(locs []driver.Locator) (bool, error) {
		_, err := driver.FindFirst(ctx, p.driver, locs...)
		if errors.Is(err, driver.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}

	if found, err := present(loginErrors); err != nil || found {
		return stateRejected, err
	}
	if found, err := present(loginForm); err != nil || found {
		return stateLoginForm, err
	}
	if found, err := present(loggedInMarks); err != nil || found {
		return stateLoggedIn, err
	}
	_, hasCookie, err := p.driver.Cookie(ctx, CookieName)
	if err != nil {
		return stateUnknown, err
	}
	if hasCookie {
		return stateLoggedIn, nil
	}
	return stateUnknown, nil
}

// IsActive reports whether the site still accepts the session, checked out of band with a plain
// http request so the driver is left alone.
func (p *Provider) IsActive(ctx context.Context, s Session) bool {
	if s.Cookie.Value == "" {
		return false
	}
	err := p.limiter.Wait(ctx)
	if err != nil {
		return false
	}

	res, err := p.http.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: s.Cookie.Name, Value: s.Cookie.Value}).
		Get("/accounts/edit/")
	if err != nil {
		p.tel.ReportWarning(report_is_active, err, s.Username)
		return false
	}
	return res.StatusCode() == http.StatusOK
}
