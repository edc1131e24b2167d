// Package counter parses the human formatted counts the platform renders next to a profile,
// ex. "3,208", "1.2k", "2,9 mil" or "followers: 1,234".
package counter

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var ErrUnparseable = errors.New("unparseable count")

var labelRegex = regexp.MustCompile(
	`\b(followers?|following|seguidores|seguidor|seguidos?|seguindo|posts?|publicaciones|publicações)\b`,
)

type magnitude struct {
	suffix     string
	multiplier float64
}

// longest suffixes first so "millones" is not read as "mil" + garbage.
var magnitudes = []magnitude{
	{suffix: "millones", multiplier: 1e6},
	{suffix: "millions", multiplier: 1e6},
	{suffix: "million", multiplier: 1e6},
	{suffix: "millón", multiplier: 1e6},
	{suffix: "mil", multiplier: 1e3},
	{suffix: "k", multiplier: 1e3},
	{suffix: "m", multiplier: 1e6},
}

var numberRegex = regexp.MustCompile(`^[0-9.,]*[0-9][0-9.,]*$`)

func unparseable(raw string, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrUnparseable, raw, reason)
}

// Parse converts a locale formatted count into a non-negative integer. It never returns 0 for
// text it does not understand, it returns an error wrapping ErrUnparseable instead.
func Parse(raw string) (int64, error) {
	text := strings.ToLower(norm.NFKC.String(raw))
	text = labelRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, ":", "")
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "+")

	// NFKC already folds thin and no-break spaces into plain spaces, which are
	// thousands separators in some locales.
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)

	multiplier := 0.0
	for _, m := range magnitudes {
		if strings.HasSuffix(text, m.suffix) {
			text = strings.TrimSuffix(text, m.suffix)
			multiplier = m.multiplier
			break
		}
	}

	if !numberRegex.MatchString(text) {
		return 0, unparseable(raw, "no digits")
	}

	if multiplier > 0 {
		value, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", "."), 64)
		if err != nil {
			return 0, unparseable(raw, err.Error())
		}
		return int64(math.Round(value * multiplier)), nil
	}

	text = strings.NewReplacer(".", "", ",", "").Replace(text)
	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, unparseable(raw, err.Error())
	}
	return value, nil
}
