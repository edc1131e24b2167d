package bot

import (
	"fmt"
	"strconv"
	"strings"

	"ganagram/internal/driver"
	"ganagram/internal/driver/fakedriver"
)

const (
	testBase = "https://www.instagram.com/"
	testPost = testBase + "p/ABC/"
)

// simSite is a small rendition of the site: a profile whose followers dialog renders every
// follower at once and a post whose comment form publishes whatever was typed.
type simSite struct {
	owner     string
	followers []string
	// ownerInHeader renders a link to the owner in the post header.
	ownerInHeader bool
	// advertised overrides the follower count on the profile.
	advertised int

	dialog    bool
	visits    int
	published []string
}

func (s *simSite) install(site *fakedriver.Site) {
	site.Route(testBase+s.owner+"/", func(tab *fakedriver.Tab) {
		s.visits++
		s.dialog = false

		label := strconv.Itoa(len(s.followers))
		if s.advertised > 0 {
			label = strconv.Itoa(s.advertised)
		}
		tab.HandleElements(
			`a[href$="/followers/"] span[title]`,
			&fakedriver.Element{Label: label, Attrs: map[string]string{"title": label}},
		)
		tab.HandleElements(`a[href$="/followers/"]`, &fakedriver.Element{OnClick: func() error {
			s.dialog = true
			return nil
		}})
		tab.Handle(`div[role=dialog]`, func() []driver.Element {
			if !s.dialog {
				return nil
			}
			return []driver.Element{&fakedriver.Element{}}
		})
		tab.HandleScript(driver.ScriptOuterHTML, func(args []any) (any, error) {
			var b strings.Builder
			b.WriteString(`<div role="dialog"><ul>`)
			for _, f := range s.followers {
				fmt.Fprintf(&b, `<li><a href="/%s/">%s</a></li>`, f, f)
			}
			b.WriteString(`</ul></div>`)
			return b.String(), nil
		})
		tab.HandleScript(driver.ScriptScrollToEnd, func(args []any) (any, error) {
			return true, nil
		})
	})

	site.Route(testPost, func(tab *fakedriver.Tab) {
		if s.ownerInHeader {
			tab.HandleElements(
				`article header a[href]`,
				&fakedriver.Element{Attrs: map[string]string{"href": "/" + s.owner + "/"}},
			)
		}

		input := &fakedriver.Element{}
		tab.HandleElements(`article[role='presentation'] form > textarea`, input)
		tab.HandleElements(`article[role='presentation'] form > button`, &fakedriver.Element{
			Label: "Post",
			Attrs: map[string]string{"type": "submit"},
			OnClick: func() error {
				s.published = append(s.published, input.Input)
				input.Input = ""
				return nil
			},
		})
	})
}
