package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"

	"ganagram/internal/components/statepath"
	"ganagram/internal/connection"
	"ganagram/internal/driver"
)

var unsafeUsernameRegex = regexp.MustCompile(`[^a-z0-9._-]`)

// TokenStore keeps the session cookie of every username as json under "<state>/cookies".
type TokenStore struct {
	dir statepath.Dir
}

func NewTokenStore(dir statepath.Dir) TokenStore {
	return TokenStore{dir: dir}
}

func (s TokenStore) path(username string) (string, error) {
	key := unsafeUsernameRegex.ReplaceAllString(string(connection.Normalize(username)), "_")
	if key == "" {
		return "", errors.New("empty username")
	}
	return s.dir.Path("cookies", key+".json")
}

// Load returns the stored cookie of username, false when there is none.
func (s TokenStore) Load(username string) (driver.Cookie, bool, error) {
	path, err := s.path(username)
	if err != nil {
		return driver.Cookie{}, false, err
	}
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return driver.Cookie{}, false, nil
	}
	if err != nil {
		return driver.Cookie{}, false, err
	}

	var cookie driver.Cookie
	err = json.Unmarshal(content, &cookie)
	if err != nil {
		return driver.Cookie{}, false, fmt.Errorf("read stored session of %s: %w", username, err)
	}
	if cookie.Value == "" {
		return driver.Cookie{}, false, nil
	}
	return cookie, true, nil
}

// Save replaces the stored cookie of username.
func (s TokenStore) Save(username string, cookie driver.Cookie) error {
	path, err := s.path(username)
	if err != nil {
		return err
	}
	content, err := json.MarshalIndent(cookie, "", "  ")
	if err != nil {
		return err
	}
	// the cookie grants full access to the account
	return os.WriteFile(path, content, 0o600)
}

// Forget removes the stored cookie of username.
func (s TokenStore) Forget(username string) error {
	path, err := s.path(username)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
