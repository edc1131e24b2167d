// Package history tracks which connections were already mentioned on a post so a later run never
// mentions them again.
package history

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"ganagram/internal/components/linestore"
	"ganagram/internal/components/statepath"
	"ganagram/internal/connection"
)

var unsafeSlugRegex = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Slug derives the stable key of a post from its url path, "https://host/p/ABC/?x=1" becomes
// "p_ABC".
func Slug(post string) (string, error) {
	path := post
	parsed, err := url.Parse(strings.TrimSpace(post))
	if err == nil && parsed.Path != "" {
		path = parsed.Path
	}

	var parts []string
	for _, segment := range strings.Split(path, "/") {
		segment = strings.Trim(unsafeSlugRegex.ReplaceAllString(segment, "_"), "_")
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("cannot derive a history slug from '%s'", post)
	}
	return strings.Join(parts, "_"), nil
}

// Tracker loads and records post histories under "<state>/history/<slug>.txt".
type Tracker struct {
	dir statepath.Dir
}

func NewTracker(dir statepath.Dir) Tracker {
	return Tracker{dir: dir}
}

func (t Tracker) path(slug string) (string, error) {
	if slug == "" || unsafeSlugRegex.MatchString(slug) {
		return "", fmt.Errorf("invalid history slug '%s'", slug)
	}
	return t.dir.Path("history", slug+".txt")
}

// Load returns every connection already mentioned on the post.
func (t Tracker) Load(slug string) (*connection.Set, error) {
	path, err := t.path(slug)
	if err != nil {
		return nil, err
	}
	conns, err := linestore.Read(path, 0)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", slug, err)
	}
	return connection.NewSet(conns...), nil
}

// Record durably appends conns to the history of the post, it is called once per confirmed
// comment.
func (t Tracker) Record(slug string, conns []connection.Connection) error {
	path, err := t.path(slug)
	if err != nil {
		return err
	}
	normalized := make([]connection.Connection, 0, len(conns))
	for _, c := range conns {
		normalized = append(normalized, connection.Normalize(string(c)))
	}
	err = linestore.Append(path, normalized)
	if err != nil {
		return fmt.Errorf("record history %s: %w", slug, err)
	}
	return nil
}

// Lock holds the history of the post exclusively until unlock is called.
func (t Tracker) Lock(ctx context.Context, slug string) (unlock func() error, err error) {
	path, err := t.path(slug)
	if err != nil {
		return nil, err
	}
	return linestore.Lock(ctx, path)
}

// Unused filters conns down to those not yet mentioned on the post, keeping their order.
func Unused(conns []connection.Connection, used *connection.Set) []connection.Connection {
	return connection.Filter(conns, used)
}
