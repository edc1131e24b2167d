package harvester

import (
	"fmt"
	"strings"

	"ganagram/internal/driver"
	"ganagram/internal/driver/fakedriver"
)

const testBase = "https://www.instagram.com/"

// simProfile renders a profile whose relation dialog is a virtualized list: at most visible
// items exist in the document at a time and every scroll renders page more.
type simProfile struct {
	handle    string
	label     string
	titled    bool
	items     []string
	visible   int
	page      int
	stallFrom int

	start, end int
	scrolls    int
	dialog     bool
	count      *fakedriver.Element
}

func (p *simProfile) install(site *fakedriver.Site) {
	site.Route(testBase+p.handle+"/", func(tab *fakedriver.Tab) {
		p.dialog = false
		p.start, p.end = 0, min(p.page, len(p.items))

		count := &fakedriver.Element{Label: p.label, Attrs: map[string]string{}}
		p.count = count
		if p.titled {
			count.Attrs["title"] = p.label
			tab.HandleElements(`a[href$="/followers/"] span[title]`, count)
		} else {
			tab.HandleElements(`a[href$="/followers/"] span`, count)
		}

		link := &fakedriver.Element{OnClick: func() error {
			p.dialog = true
			return nil
		}}
		tab.HandleElements(`a[href$="/followers/"]`, link)

		tab.Handle(dialogLocator, func() []driver.Element {
			if !p.dialog {
				return nil
			}
			return []driver.Element{&fakedriver.Element{}}
		})
		tab.HandleScript(driver.ScriptOuterHTML, func(args []any) (any, error) {
			if !p.dialog {
				return nil, nil
			}
			return p.render(), nil
		})
		tab.HandleScript(driver.ScriptScrollToEnd, func(args []any) (any, error) {
			if !p.dialog {
				return false, nil
			}
			p.scrolls++
			if p.stallFrom > 0 && p.end >= p.stallFrom {
				return true, nil
			}
			p.end = min(p.end+p.page, len(p.items))
			p.start = max(0, p.end-p.visible)
			return true, nil
		})
	})
}

func (p *simProfile) render() string {
	var b strings.Builder
	b.WriteString(`<div role="dialog"><div><a href="/explore/">Explore</a><ul>`)
	for _, item := range p.items[p.start:p.end] {
		fmt.Fprintf(&b, `<li><a href="/%s/"><img></a><span><a href="https://www.instagram.com/%s/">%s</a></span></li>`, item, item, item)
	}
	b.WriteString(`<li><a href="https://other.example.com/spam/">spam</a></li></ul></div></div>`)
	return b.String()
}

func names(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%02d", prefix, i)
	}
	return out
}
