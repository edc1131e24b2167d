package connection

import (
	"net/url"
	"regexp"
	"strings"
)

// Marker prefixes a handle when it is displayed or mentioned.
const Marker = '@'

// Connection is a normalized handle: lowercase, no leading marker.
type Connection string

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize lowercases a handle, strips whitespace and any leading markers.
func Normalize(handle string) Connection {
	handle = whitespaceRegex.ReplaceAllString(handle, "")
	handle = strings.TrimLeft(handle, string(Marker))
	return Connection(strings.ToLower(handle))
}

// Display returns the handle prefixed with the marker.
func (c Connection) Display() string {
	return string(Marker) + string(c)
}

func (c Connection) String() string {
	return string(c)
}

// reservedPaths are top-level routes of the platform that never name an account.
var reservedPaths = map[string]struct{}{}

func init() {
	for _, p := range []string{
		"", "about", "accounts", "api", "challenge", "developer", "direct", "directory",
		"emails", "explore", "graphql", "legal", "lite", "nametag", "oauth", "p", "privacy",
		"reel", "reels", "session", "static", "stories", "terms", "tv", "web", "your_activity",
	} {
		reservedPaths[p] = struct{}{}
	}
}

// IsReserved reports whether segment is a platform route rather than a username.
func IsReserved(segment string) bool {
	_, ok := reservedPaths[strings.ToLower(segment)]
	return ok
}

// FromHref extracts the account handle from a profile link, absolute or relative. It returns
// false when the link points elsewhere or its leading path segment is reserved.
func FromHref(href string, base *url.URL) (Connection, bool) {
	link, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	if base != nil {
		if link.IsAbs() && !strings.EqualFold(link.Hostname(), base.Hostname()) {
			return "", false
		}
		link = base.ResolveReference(link)
	}

	var segment string
	for _, part := range strings.Split(link.Path, "/") {
		if part != "" {
			segment = part
			break
		}
	}
	if segment == "" || IsReserved(segment) {
		return "", false
	}
	return Normalize(segment), true
}

// Set is an insertion ordered set of connections.
type Set struct {
	order []Connection
	index map[Connection]struct{}
}

func NewSet(initial ...Connection) *Set {
	s := &Set{index: make(map[Connection]struct{}, len(initial))}
	for _, c := range initial {
		s.Add(c)
	}
	return s
}

// Add inserts c, returning false if it was already present.
func (s *Set) Add(c Connection) bool {
	if _, ok := s.index[c]; ok {
		return false
	}
	s.index[c] = struct{}{}
	s.order = append(s.order, c)
	return true
}

func (s *Set) Has(c Connection) bool {
	_, ok := s.index[c]
	return ok
}

func (s *Set) Len() int {
	return len(s.order)
}

// Slice returns the members in insertion order.
func (s *Set) Slice() []Connection {
	out := make([]Connection, len(s.order))
	copy(out, s.order)
	return out
}

// Filter returns the connections in list that are not in exclude, preserving order.
func Filter(list []Connection, exclude *Set) []Connection {
	out := make([]Connection, 0, len(list))
	for _, c := range list {
		if exclude != nil && exclude.Has(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
