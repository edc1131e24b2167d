package harvester

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ganagram/internal/connection"
	"ganagram/internal/driver"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ResolveOwner opens a post and returns the account that published it, read from the profile
// link in the post header or, failing that, from the author of its json-ld metadata.
func (h *Harvester) ResolveOwner(ctx context.Context, postURL string) (connection.Connection, error) {
	ctx, span := tracer.Start(ctx, "ResolveOwner")
	defer span.End()
	span.SetAttributes(attribute.String("post", postURL))

	owner, err := h.resolveOwner(ctx, postURL)
	if err != nil {
		h.tel.ReportBroken(report_resolve_owner, err, postURL)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("owner", string(owner)))
	return owner, nil
}

func (h *Harvester) resolveOwner(ctx context.Context, postURL string) (connection.Connection, error) {
	err := h.driver.Navigate(ctx, postURL)
	if err != nil {
		return "", err
	}

	// the header and the metadata render independently, whichever shows up first is enough to
	// start looking
	waitLocs := append(append([]driver.Locator{}, ownerAnchors...), jsonLDLocator)
	err = driver.WaitUntil(ctx, h.clock, h.timeout, func(ctx context.Context) (bool, error) {
		_, err := driver.FindFirst(ctx, h.driver, waitLocs...)
		return err == nil, err
	})
	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}

	owner, err := h.ownerFromHeader(ctx)
	if err != nil {
		return "", err
	}
	if owner != "" {
		return owner, nil
	}

	owner, err = h.ownerFromMetadata(ctx)
	if err != nil {
		return "", err
	}
	if owner != "" {
		return owner, nil
	}

	return "", fmt.Errorf(
		"%w: could not detect the owner of %s, configure 'target' explicitly",
		driver.ErrNotFound, postURL,
	)
}

func (h *Harvester) ownerFromHeader(ctx context.Context) (connection.Connection, error) {
	for _, loc := range ownerAnchors {
		anchors, err := h.driver.Find(ctx, loc)
		if err != nil {
			return "", err
		}
		for _, a := range anchors {
			href, ok, err := a.Attribute(ctx, "href")
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
			if owner, ok := connection.FromHref(href, h.base); ok {
				return owner, nil
			}
		}
	}
	return "", nil
}

func (h *Harvester) ownerFromMetadata(ctx context.Context) (connection.Connection, error) {
	scripts, err := h.driver.Find(ctx, jsonLDLocator)
	if err != nil {
		return "", err
	}
	for _, s := range scripts {
		text, err := s.Text(ctx)
		if err != nil {
			return "", err
		}
		owner := authorOf(text)
		if owner != "" {
			return owner, nil
		}
	}
	return "", nil
}

type ldAuthor struct {
	AlternateName string `json:"alternateName"`
	Name          string `json:"name"`
}

type ldItem struct {
	Author json.RawMessage `json:"author"`
}

// authorOf reads the author handle out of a json-ld document, which may hold a single item or a
// list of them. Malformed documents yield nothing.
func authorOf(document string) connection.Connection {
	document = strings.TrimSpace(document)

	var items []ldItem
	if strings.HasPrefix(document, "[") {
		if json.Unmarshal([]byte(document), &items) != nil {
			return ""
		}
	} else {
		var item ldItem
		if json.Unmarshal([]byte(document), &item) != nil {
			return ""
		}
		items = []ldItem{item}
	}

	for _, item := range items {
		var author ldAuthor
		if len(item.Author) == 0 || json.Unmarshal(item.Author, &author) != nil {
			continue
		}
		name := author.AlternateName
		if name == "" {
			name = author.Name
		}
		if c := connection.Normalize(name); c != "" {
			return c
		}
	}
	return ""
}
