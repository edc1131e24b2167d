package poster

import (
	"errors"
	"strings"

	"ganagram/internal/driver"
	"ganagram/internal/driver/fakedriver"
)

const testPost = "https://www.instagram.com/p/ABC/"

// submitOutcome is what the simulated site does with the n-th click on its submit control.
type submitOutcome int

const (
	// publishes the comment and clears the input
	outcomePublish submitOutcome = iota
	// does nothing, the input keeps its text
	outcomeStuck
	// shows a loading indicator that never clears on its own
	outcomeSpin
)

type simPost struct {
	outcomes  []submitOutcome
	noButton  bool
	rejectRun string

	// overrideFailures is how many payload overrides fail before one is installed.
	overrideFailures int

	input     *fakedriver.Element
	loading   bool
	override  string
	published []string
	submits   int
	typed     []string
	emoji     int
	clears    int
}

func (p *simPost) outcome() submitOutcome {
	n := p.submits
	p.submits++
	if n < len(p.outcomes) {
		return p.outcomes[n]
	}
	return outcomePublish
}

func (p *simPost) submit() error {
	switch p.outcome() {
	case outcomePublish:
		text := p.input.Input
		if p.override != "" {
			text = p.override
		}
		p.published = append(p.published, text)
		p.input.Input = ""
		p.override = ""
	case outcomeSpin:
		// the request goes out and spends the override
		p.loading = true
		p.override = ""
	}
	return nil
}

func (p *simPost) install(site *fakedriver.Site) {
	site.Route(testPost, func(tab *fakedriver.Tab) {
		p.input = &fakedriver.Element{
			OnType: func(text string) error {
				if p.rejectRun != "" {
					if i := strings.Index(text, p.rejectRun); i >= 0 {
						// typing stops at the first character the input refuses
						p.input.Input += text[:i]
						return driver.ErrTransientUI
					}
				}
				p.typed = append(p.typed, text)
				p.input.Input += text
				return nil
			},
			OnKey: func(key string) error {
				if key == submitKey {
					return p.submit()
				}
				return nil
			},
		}
		tab.HandleElements(inputLocators[0], p.input)

		emoji := &fakedriver.Element{
			Attrs: map[string]string{"aria-label": "Emoji"},
			OnClick: func() error {
				p.emoji++
				return nil
			},
		}
		if p.noButton {
			tab.HandleElements(submitLocators[0], emoji)
		} else {
			post := &fakedriver.Element{Label: "Post", Attrs: map[string]string{"type": "submit"}, OnClick: p.submit}
			tab.HandleElements(submitLocators[0], emoji, post)
		}

		tab.Handle(loadingLocators[0], func() []driver.Element {
			if p.loading {
				return []driver.Element{&fakedriver.Element{}}
			}
			return nil
		})
		tab.HandleScript(driver.ScriptClearInput, func(args []any) (any, error) {
			p.clears++
			p.input.Input = ""
			return true, nil
		})
		// an installed override stays until a request spends it or it is restored
		tab.HandleScript(driver.ScriptOverrideCommentPayload, func(args []any) (any, error) {
			if p.overrideFailures > 0 {
				p.overrideFailures--
				return nil, errors.New("script blocked")
			}
			p.override = args[0].(string)
			return true, nil
		})
		tab.HandleScript(driver.ScriptRestoreCommentPayload, func(args []any) (any, error) {
			p.override = ""
			return true, nil
		})
	})
}

func toElements(els ...*fakedriver.Element) []driver.Element {
	out := make([]driver.Element, len(els))
	for i, e := range els {
		out[i] = e
	}
	return out
}
