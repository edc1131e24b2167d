package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"ganagram/internal/components/chrono"
	"ganagram/internal/components/statepath"
	"ganagram/internal/components/telemetry"
	"ganagram/internal/driver"
	"ganagram/internal/driver/fakedriver"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	testBase   = "https://www.instagram.com/"
	loginURL   = testBase + "accounts/login/"
	validToken = "token-123"
)

// simLogin renders a login page that accepts a single account.
type simLogin struct {
	username  string
	password  string
	challenge bool
	consent   bool

	submitted int
	consented int
}

func (s *simLogin) install(site *fakedriver.Site) {
	site.Route(testBase+"challenge/", func(tab *fakedriver.Tab) {})
	site.Route(loginURL, func(tab *fakedriver.Tab) {
		if s.consent {
			tab.HandleElements(consentButtons, &fakedriver.Element{
				Label: "Allow all cookies",
				OnClick: func() error {
					s.consented++
					tab.Unhandle(consentButtons)
					return nil
				},
			})
		}

		if site.CookieValue(CookieName) == validToken {
			tab.HandleElements(loggedInMarks[1], &fakedriver.Element{})
			return
		}

		user := &fakedriver.Element{}
		pass := &fakedriver.Element{}
		pass.OnKey = func(key string) error {
			s.submitted++
			switch {
			case user.Input != s.username || pass.Input != s.password:
				tab.HandleElements(loginErrors[0], &fakedriver.Element{Label: "Sorry, your password was incorrect."})
			case s.challenge:
				tab.Redirect(testBase + "challenge/")
			default:
				site.SetCookie(driver.Cookie{Name: CookieName, Value: validToken, Domain: ".instagram.com", Path: "/"})
				tab.Redirect(loginURL)
			}
			return nil
		}
		tab.HandleElements(loginInputs, user, pass)
		tab.HandleElements(loginForm[0], user)
	})
}

func newProvider(t *testing.T, sim *simLogin) (*Provider, *fakedriver.Site, TokenStore) {
	t.Helper()
	base, err := url.Parse(testBase)
	require.NoError(t, err)

	site := fakedriver.NewSite()
	sim.install(site)
	store := NewTokenStore(statepath.Dir{Root: t.TempDir()})
	clock := chrono.NewFakeImpl(time.Unix(0, 0))

	p := NewProvider(site.Open(), clock, telemetry.NewMemoryAPI(), store, base, 10*time.Second)
	return p, site, store
}

func TestLogInFillsForm(t *testing.T) {
	sim := &simLogin{username: "alice", password: "secret", consent: true}
	p, _, store := newProvider(t, sim)

	s, err := p.LogIn(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "alice", s.Username)
	require.Equal(t, validToken, s.Cookie.Value)
	require.Equal(t, 1, sim.submitted)
	require.Equal(t, 1, sim.consented)

	stored, ok, err := store.Load("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, s.Cookie, stored)
}

func TestLogInReusesStoredCookie(t *testing.T) {
	sim := &simLogin{username: "alice", password: "secret"}
	p, _, store := newProvider(t, sim)
	require.NoError(t, store.Save("alice", driver.Cookie{Name: CookieName, Value: validToken, Path: "/"}))

	s, err := p.LogIn(context.Background(), "alice", "wrong password is never typed")
	require.NoError(t, err)
	require.Equal(t, validToken, s.Cookie.Value)
	require.Zero(t, sim.submitted)
}

func TestLogInExpiredCookie(t *testing.T) {
	sim := &simLogin{username: "alice", password: "secret"}
	p, _, store := newProvider(t, sim)
	require.NoError(t, store.Save("alice", driver.Cookie{Name: CookieName, Value: "expired", Path: "/"}))

	s, err := p.LogIn(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, validToken, s.Cookie.Value)
	require.Equal(t, 1, sim.submitted)
}

func TestLogInFailures(t *testing.T) {
	testCases := []struct {
		name     string
		sim      *simLogin
		password string
		err      error
	}{
		{
			name:     "rejected",
			sim:      &simLogin{username: "alice", password: "secret"},
			password: "nope",
			err:      ErrRejectedCredentials,
		},
		{
			name:     "challenge",
			sim:      &simLogin{username: "alice", password: "secret", challenge: true},
			password: "secret",
			err:      ErrVerificationChallenge,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			p, _, store := newProvider(t, test.sim)
			_, err := p.LogIn(context.Background(), "alice", test.password)
			require.ErrorIs(t, err, test.err)

			_, ok, err := store.Load("alice")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestIsActive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		if r.URL.Path != "/accounts/edit/" || err != nil || cookie.Value != validToken {
			http.Redirect(w, r, "/accounts/login/", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	site := fakedriver.NewSite()
	p := NewProvider(site.Open(), chrono.NewFakeImpl(time.Unix(0, 0)), telemetry.NewMemoryAPI(), NewTokenStore(statepath.Dir{Root: t.TempDir()}), base, 5*time.Second)
	p.limiter = rate.NewLimiter(rate.Inf, 1)

	ctx := context.Background()
	require.True(t, p.IsActive(ctx, Session{Username: "alice", Cookie: driver.Cookie{Name: CookieName, Value: validToken}}))
	require.False(t, p.IsActive(ctx, Session{Username: "alice", Cookie: driver.Cookie{Name: CookieName, Value: "stale"}}))
	require.False(t, p.IsActive(ctx, Session{Username: "alice"}))
}

func TestTokenStore(t *testing.T) {
	store := NewTokenStore(statepath.Dir{Root: t.TempDir()})

	_, ok, err := store.Load("Alice")
	require.NoError(t, err)
	require.False(t, ok)

	cookie := driver.Cookie{Name: CookieName, Value: "v", Domain: ".instagram.com", Path: "/", HTTPOnly: true, Secure: true}
	require.NoError(t, store.Save("Alice", cookie))

	loaded, ok, err := store.Load("@alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cookie, loaded)

	require.NoError(t, store.Forget("alice"))
	require.NoError(t, store.Forget("alice"))
	_, ok, err = store.Load("alice")
	require.NoError(t, err)
	require.False(t, ok)
}
