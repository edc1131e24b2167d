package template

import (
	"ganagram/internal/connection"
)

// GeneratedComment is the concrete text of a comment plus who it mentions.
type GeneratedComment struct {
	Text     string
	Mentions []connection.Connection
}

// Generator lazily yields the comments of a template over a list of connections. It is not
// seekable, restarting means calling Generate again with the same inputs.
type Generator struct {
	tpl   Template
	conns []connection.Connection
	pos   int
	done  bool
}

// Generate partitions conns into consecutive groups of Slots() connections, a trailing group
// smaller than that is never emitted. A template without slots yields its literal text once.
func (t Template) Generate(conns []connection.Connection) *Generator {
	return &Generator{tpl: t, conns: conns}
}

// Next returns the next comment, or false once the sequence has ended.
func (g *Generator) Next() (GeneratedComment, bool) {
	if g.done {
		return GeneratedComment{}, false
	}

	n := g.tpl.Slots()
	if n == 0 {
		g.done = true
		return GeneratedComment{Text: g.tpl.Fragments[0]}, true
	}

	if len(g.conns)-g.pos < n {
		g.done = true
		return GeneratedComment{}, false
	}

	group := make([]connection.Connection, n)
	copy(group, g.conns[g.pos:g.pos+n])
	g.pos += n

	text, err := g.tpl.Compose(group)
	if err != nil {
		// unreachable, the group is always exactly n long
		g.done = true
		return GeneratedComment{}, false
	}
	return GeneratedComment{Text: text, Mentions: group}, true
}

// Remaining returns how many more comments Next will yield.
func (g *Generator) Remaining() int {
	if g.done {
		return 0
	}
	n := g.tpl.Slots()
	if n == 0 {
		return 1
	}
	return (len(g.conns) - g.pos) / n
}
