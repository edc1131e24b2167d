// Package harvester discovers the connections of a target account by scrolling through the
// incrementally rendered relation dialog of its profile.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"ganagram/internal/components/assert"
	"ganagram/internal/components/chrono"
	"ganagram/internal/components/telemetry"
	"ganagram/internal/connection"
	"ganagram/internal/counter"
	"ganagram/internal/driver"
	"ganagram/internal/registry"
	"ganagram/lib/htmlutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	report_read_total    = "read-total"
	report_open_dialog   = "open-dialog"
	report_extract       = "extract"
	report_scroll        = "scroll"
	report_deadline      = "deadline"
	report_idle          = "idle"
	report_discovered    = "discovered"
	report_resolve_owner = "resolve-owner"
	report_metrics       = "metrics"
)

var tracer = otel.Tracer("ganagram/internal/harvester")

const (
	// DefaultIdleCeiling is how many consecutive cycles without new identifiers end a scan.
	DefaultIdleCeiling = 8
	initialBackoff     = 500 * time.Millisecond
	maxBackoff         = 5 * time.Second
)

// Options describes one harvest.
type Options struct {
	Target   string
	Relation registry.Relation
	// Limit caps the result, 0 means no limit.
	Limit int
	// ForceFull scans the whole list even when the known connections would do.
	ForceFull bool
	// Known are the connections already stored for the target.
	Known []connection.Connection
}

// Result is what a harvest produced, partial results are normal.
type Result struct {
	// Connections are the known connections followed by the new ones.
	Connections []connection.Connection
	// New are the connections discovered by this harvest in discovery order.
	New        []connection.Connection
	Advertised int64
	// Scanned is false when the known connections were returned without opening the list.
	Scanned bool
}

type Harvester struct {
	driver      driver.Driver
	clock       chrono.API
	tel         telemetry.API
	base        *url.URL
	timeout     time.Duration
	idleCeiling int
	discovered  metric.Int64Counter
}

// New creates a harvester, timeout bounds every wait and resets whenever a scan makes progress.
func New(d driver.Driver, clock chrono.API, tel telemetry.API, base *url.URL, timeout time.Duration) *Harvester {
	assert.NotNil(d)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotNil(base)

	scoped := telemetry.NewScopedAPI("harvester", tel)
	discovered, err := otel.Meter("ganagram").Int64Counter(
		"connections_discovered",
		metric.WithDescription("connections discovered by harvests"),
	)
	if err != nil {
		scoped.ReportBroken(report_metrics, err)
	}

	return &Harvester{
		driver:      d,
		clock:       clock,
		tel:         scoped,
		base:        base,
		timeout:     timeout,
		idleCeiling: DefaultIdleCeiling,
		discovered:  discovered,
	}
}

// SetIdleCeiling overrides DefaultIdleCeiling.
func (h *Harvester) SetIdleCeiling(n int) {
	h.idleCeiling = n
}

// ProfileURL returns the profile page of target.
func (h *Harvester) ProfileURL(target string) string {
	return h.base.JoinPath(string(connection.Normalize(target)), "/").String()
}

// Harvest opens the profile of opts.Target and collects its connections. It only fails when
// the advertised total cannot be read, the dialog cannot be opened or ctx is done, in the
// latter case the partial result is returned along with the error.
func (h *Harvester) Harvest(ctx context.Context, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "Harvest")
	defer span.End()
	span.SetAttributes(
		attribute.String("target", opts.Target),
		attribute.String("relation", string(opts.Relation)),
		attribute.Int("limit", opts.Limit),
		attribute.Bool("force_full", opts.ForceFull),
		attribute.Int("known", len(opts.Known)),
	)

	res, err := h.harvest(ctx, opts)
	span.SetAttributes(attribute.Int("new", len(res.New)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (h *Harvester) harvest(ctx context.Context, opts Options) (Result, error) {
	known := append([]connection.Connection(nil), opts.Known...)
	res := Result{Connections: known}

	locs, ok := locators[opts.Relation]
	if !ok {
		return res, fmt.Errorf("unknown relation '%s'", opts.Relation)
	}

	err := h.driver.Navigate(ctx, h.ProfileURL(opts.Target))
	if err != nil {
		return res, err
	}

	advertised, err := h.readTotal(ctx, locs)
	if err != nil {
		h.tel.ReportBroken(report_read_total, err, opts.Target)
		return res, err
	}
	res.Advertised = advertised

	if !opts.ForceFull && len(known) > 0 && (opts.Limit <= 0 || advertised < int64(opts.Limit)) {
		h.tel.ReportDebug("known connections suffice", "known", len(known), "advertised", advertised)
		return res, nil
	}

	quota := advertised
	if opts.Limit > 0 && int64(opts.Limit) < quota {
		quota = int64(opts.Limit)
	}
	remaining := max(quota-int64(len(known)), 0)
	if !opts.ForceFull && remaining == 0 {
		return res, nil
	}

	err = h.openDialog(ctx, locs)
	if err != nil {
		h.tel.ReportBroken(report_open_dialog, err, opts.Target)
		return res, err
	}
	res.Scanned = true

	fresh, err := h.scan(ctx, scanState{
		known:      connection.NewSet(known...),
		advertised: advertised,
		remaining:  remaining,
		force:      opts.ForceFull,
	})
	res.New = fresh
	res.Connections = append(res.Connections, fresh...)

	if h.discovered != nil && len(fresh) > 0 {
		h.discovered.Add(ctx, int64(len(fresh)), metric.WithAttributes(
			attribute.String("relation", string(opts.Relation)),
		))
	}
	h.tel.ReportCount(report_discovered, int64(len(fresh)))
	return res, err
}

// readTotal reads the advertised size of the relation, waiting for the label to render. A blank
// label has not rendered yet, a label that rendered but cannot be parsed fails with
// counter.ErrUnparseable right away.
func (h *Harvester) readTotal(ctx context.Context, locs relationLocators) (int64, error) {
	var (
		total    int64
		parseErr error
	)
	err := driver.WaitUntil(ctx, h.clock, h.timeout, func(ctx context.Context) (bool, error) {
		parseErr = nil
		found := false
		for _, c := range locs.counts {
			elements, err := h.driver.Find(ctx, c.loc)
			if err != nil {
				return false, err
			}
			if len(elements) == 0 {
				continue
			}

			raw, err := labelOf(ctx, elements[0], c.attr)
			if err != nil {
				return false, err
			}
			if strings.TrimSpace(raw) == "" {
				continue
			}
			found = true
			n, err := counter.Parse(raw)
			if err != nil {
				parseErr = err
				continue
			}
			total = n
			parseErr = nil
			return true, nil
		}
		return found, nil
	})
	if err != nil {
		return 0, fmt.Errorf("read advertised total: %w", err)
	}
	if parseErr != nil {
		return 0, parseErr
	}
	return total, nil
}

func labelOf(ctx context.Context, el driver.Element, attr string) (string, error) {
	if attr != "" {
		value, ok, err := el.Attribute(ctx, attr)
		if err != nil {
			return "", err
		}
		if ok && value != "" {
			return value, nil
		}
	}
	return el.Text(ctx)
}

func (h *Harvester) openDialog(ctx context.Context, locs relationLocators) error {
	links, err := driver.FindFirst(ctx, h.driver, locs.links...)
	if err != nil {
		return fmt.Errorf("find relation link: %w", err)
	}
	err = h.driver.Click(ctx, links[0])
	if err != nil {
		return fmt.Errorf("open relation dialog: %w", err)
	}
	_, err = driver.WaitFor(ctx, h.clock, h.driver, dialogLocator, h.timeout)
	return err
}

type scanState struct {
	known      *connection.Set
	advertised int64
	remaining  int64
	force      bool
}

// scan runs the scroll and extract loop until the quota is met, the advertised total has been
// seen, the list stays idle for too long or the deadline passes.
func (h *Harvester) scan(ctx context.Context, st scanState) ([]connection.Connection, error) {
	var (
		fresh    []connection.Connection
		seen     = connection.NewSet()
		idle     = 0
		backoff  = initialBackoff
		deadline = h.clock.Now().Add(h.timeout)
	)

	for {
		if err := ctx.Err(); err != nil {
			return fresh, err
		}
		if !h.clock.Now().Before(deadline) {
			h.tel.ReportWarning(report_deadline, "discovered", len(fresh), "seen", seen.Len())
			return fresh, nil
		}

		rendered, err := h.extract(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fresh, ctx.Err()
			}
			h.tel.ReportWarning(report_extract, err)
		}

		progressed := false
		for _, c := range rendered {
			if !seen.Add(c) {
				continue
			}
			progressed = true
			if !st.known.Add(c) {
				continue
			}
			fresh = append(fresh, c)
			if !st.force {
				st.remaining--
				if st.remaining <= 0 {
					return fresh, nil
				}
			}
		}

		if progressed {
			idle = 0
			backoff = initialBackoff
			deadline = h.clock.Now().Add(h.timeout)
		} else {
			idle++
			if idle > h.idleCeiling {
				h.tel.ReportWarning(report_idle, "discovered", len(fresh), "seen", seen.Len())
				return fresh, nil
			}
			err = h.clock.Sleep(ctx, backoff)
			if err != nil {
				return fresh, err
			}
			backoff = min(backoff*2, maxBackoff)
		}

		if int64(seen.Len()) >= st.advertised {
			return fresh, nil
		}

		err = h.scroll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fresh, ctx.Err()
			}
			h.tel.ReportWarning(report_scroll, err)
		}
	}
}

// extract returns the identifiers currently rendered in the dialog in document order.
func (h *Harvester) extract(ctx context.Context) ([]connection.Connection, error) {
	value, err := h.driver.ExecuteScript(ctx, driver.ScriptOuterHTML, string(dialogLocator))
	if err != nil {
		return nil, err
	}
	markup, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: relation dialog", driver.ErrNotFound)
	}

	doc, err := htmlutil.Parse(markup)
	if err != nil {
		return nil, err
	}

	rendered := connection.NewSet()
	for _, anchor := range htmlutil.GetAnchors(ctx, doc.Find("a[href]")) {
		c, ok := connection.FromHref(anchor.Href, h.base)
		if !ok {
			continue
		}
		rendered.Add(c)
	}
	return rendered.Slice(), nil
}

func (h *Harvester) scroll(ctx context.Context) error {
	value, err := h.driver.ExecuteScript(ctx, driver.ScriptScrollToEnd, string(dialogLocator))
	if err != nil {
		return err
	}
	if scrolled, _ := value.(bool); !scrolled {
		return errors.New("relation dialog has no scrollable region")
	}
	return nil
}
