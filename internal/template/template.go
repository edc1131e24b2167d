package template

import (
	"errors"
	"fmt"
	"strings"

	"ganagram/internal/connection"
)

var (
	ErrUnparseable = errors.New("unparseable template")
	// ErrNoSlots is returned when mentions are required but the template has none.
	ErrNoSlots = errors.New("template has no mention slots")
)

const escapedMarker = `\` + string(connection.Marker)

// Template is a comment template split into literal fragments around mention slots,
// len(Fragments) == Slots()+1 always holds.
type Template struct {
	Fragments []string
}

// Parse splits raw on unescaped markers, an escaped marker (\@) is kept as a literal @.
func Parse(raw string) (Template, error) {
	if strings.TrimSpace(raw) == "" {
		return Template{}, fmt.Errorf("%w: template is empty", ErrUnparseable)
	}

	var fragments []string
	var current strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '\\' && i+1 < len(raw) && raw[i+1] == connection.Marker {
			current.WriteByte(connection.Marker)
			i++
			continue
		}
		if c == connection.Marker {
			fragments = append(fragments, current.String())
			current.Reset()
			continue
		}
		current.WriteByte(c)
	}
	fragments = append(fragments, current.String())

	return Template{Fragments: fragments}, nil
}

// HasMention reports whether raw contains at least one unescaped marker.
func HasMention(raw string) bool {
	stripped := strings.ReplaceAll(raw, escapedMarker, "")
	return strings.ContainsRune(stripped, connection.Marker)
}

// Slots returns the number of mentions each generated comment carries.
func (t Template) Slots() int {
	return len(t.Fragments) - 1
}

// RequireSlots fails with ErrNoSlots when the template cannot mention anyone.
func (t Template) RequireSlots() error {
	if t.Slots() < 1 {
		return ErrNoSlots
	}
	return nil
}

// Compose fills the slots of the template with group, len(group) must equal Slots().
func (t Template) Compose(group []connection.Connection) (string, error) {
	if len(group) != t.Slots() {
		return "", fmt.Errorf("compose: expected %d connections, got %d", t.Slots(), len(group))
	}
	var out strings.Builder
	for i, c := range group {
		out.WriteString(t.Fragments[i])
		out.WriteString(c.Display())
	}
	out.WriteString(t.Fragments[len(t.Fragments)-1])
	return out.String(), nil
}

// Match is the inverse of Compose, it recovers the mentioned connections from a comment
// generated from this template.
func (t Template) Match(text string) ([]connection.Connection, bool) {
	if !strings.HasPrefix(text, t.Fragments[0]) {
		return nil, false
	}
	rest := text[len(t.Fragments[0]):]

	var mentions []connection.Connection
	for i := 1; i < len(t.Fragments); i++ {
		if len(rest) == 0 || rest[0] != connection.Marker {
			return nil, false
		}
		rest = rest[1:]

		var end int
		if i == len(t.Fragments)-1 {
			if !strings.HasSuffix(rest, t.Fragments[i]) {
				return nil, false
			}
			end = len(rest) - len(t.Fragments[i])
		} else {
			end = strings.Index(rest, t.Fragments[i])
			if end < 0 {
				return nil, false
			}
		}
		mentions = append(mentions, connection.Normalize(rest[:end]))
		rest = rest[end+len(t.Fragments[i]):]
	}
	return mentions, true
}
