package harvester

import (
	"ganagram/internal/driver"
	"ganagram/internal/registry"
)

// countLocator points at a rendered count label, attr is read instead of the text when set
// since the title of a label carries the exact number while the text may be abbreviated.
type countLocator struct {
	loc  driver.Locator
	attr string
}

type relationLocators struct {
	counts []countLocator
	links  []driver.Locator
}

var locators = map[registry.Relation]relationLocators{
	registry.Followers: {
		counts: []countLocator{
			{loc: `a[href$="/followers/"] span[title]`, attr: "title"},
			{loc: `a[href$="/followers/"] span`},
			{loc: `ul li a span[title]`, attr: "title"},
		},
		links: []driver.Locator{
			`a[href$="/followers/"]`,
			`ul li:nth-child(2) a`,
		},
	},
	registry.Following: {
		counts: []countLocator{
			{loc: `a[href$="/following/"] span[title]`, attr: "title"},
			{loc: `a[href$="/following/"] span`},
			{loc: `ul li:nth-child(3) a span`},
		},
		links: []driver.Locator{
			`a[href$="/following/"]`,
			`ul li:nth-child(3) a`,
		},
	},
}

const dialogLocator driver.Locator = `div[role=dialog]`

// ownerAnchors are tried in order, the first profile link found names the owner of a post.
var ownerAnchors = []driver.Locator{
	`article header a[href]`,
	`header a[href]`,
}

const jsonLDLocator driver.Locator = `script[type='application/ld+json']`
