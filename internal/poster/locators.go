package poster

import (
	"context"
	"strings"

	"ganagram/internal/driver"

	"github.com/antzucaro/matchr"
)

var inputLocators = []driver.Locator{
	`article[role='presentation'] form > textarea`,
	`form textarea`,
	`form div[contenteditable='true'][role='textbox']`,
}

var submitLocators = []driver.Locator{
	`article[role='presentation'] form > button`,
	`form button`,
	`form div[role='button']`,
}

var loadingLocators = []driver.Locator{
	`article[role='presentation'] form > div[data-visualcompletion='loading-state']`,
	`form div[data-visualcompletion='loading-state']`,
}

var (
	submitLabels     = []string{"post", "publish", "send", "reply", "publicar", "enviar", "responder"}
	decorativeLabels = []string{"emoji", "emoji picker", "sticker", "gif", "more options", "emojis"}
)

const (
	labelSimilarity = 0.88
	submitKey       = "Enter"
)

// similarity returns the best jaro-winkler score of label against candidates.
func similarity(label string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if strings.Contains(label, c) {
			return 1
		}
		score := matchr.JaroWinkler(label, c, false)
		if score > best {
			best = score
		}
	}
	return best
}

// controlLabel is what a control announces itself as, its accessible label or its text.
func controlLabel(ctx context.Context, el driver.Element) (string, bool, error) {
	var parts []string
	for _, name := range []string{"aria-label", "title"} {
		value, ok, err := el.Attribute(ctx, name)
		if err != nil {
			return "", false, err
		}
		if ok {
			parts = append(parts, value)
		}
	}
	text, err := el.Text(ctx)
	if err != nil {
		return "", false, err
	}
	parts = append(parts, text)

	kind, _, err := el.Attribute(ctx, "type")
	if err != nil {
		return "", false, err
	}
	label := strings.ToLower(strings.TrimSpace(strings.Join(parts, " ")))
	return label, kind == "submit", nil
}

// pickSubmit returns the control most likely to submit the form, icon only and decorative
// controls are never picked.
func pickSubmit(ctx context.Context, controls []driver.Element) (driver.Element, error) {
	var (
		best      driver.Element
		bestScore float64
	)
	for _, el := range controls {
		label, isSubmit, err := controlLabel(ctx, el)
		if err != nil {
			return nil, err
		}
		if label == "" {
			continue
		}
		if similarity(label, decorativeLabels) >= labelSimilarity {
			continue
		}

		score := similarity(label, submitLabels)
		if isSubmit {
			score += 0.5
		}
		if score >= labelSimilarity && score > bestScore {
			best, bestScore = el, score
		}
	}
	if best == nil {
		return nil, driver.ErrNotFound
	}
	return best, nil
}
