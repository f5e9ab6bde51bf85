package discovery

import (
	"context"
	"fmt"
	"time"

	appLog "copilot/internal/log"
	"copilot/internal/model"
)

// Collector fetches and decodes every configured feed.
type Collector struct {
	Fetcher *Fetcher
	// Horizon is how far ahead recurring ICS events are expanded.
	Horizon time.Duration
	// Backfill is how far back occurrences are kept, so multi-day events
	// that started earlier are still known.
	Backfill time.Duration
}

// Collect returns the union of all feeds' events, deduplicated by ID with the
// first occurrence winning. A failing feed is reported in errs and skipped;
// once ctx is done every remaining feed is reported as failed.
func (c *Collector) Collect(ctx context.Context, feeds []Feed, now time.Time) ([]model.Event, []error) {
	var errs []error
	seen := make(map[string]struct{})
	out := make([]model.Event, 0)

	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			// Feeds never attempted count as failed.
			errs = append(errs, fmt.Errorf("discovery: feed %s not collected: %w", feed.ID, err))
			continue
		}

		events, err := c.collectOne(ctx, feed, now)
		if err != nil {
			appLog.Error("feed collect failed", err, "id", feed.ID, "kind", string(feed.Kind))
			errs = append(errs, err)
			continue
		}

		added := 0
		for _, ev := range events {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
			added++
		}
		appLog.Info("feed collected", "id", feed.ID, "kind", string(feed.Kind), "events", added)
	}
	return out, errs
}

func (c *Collector) collectOne(ctx context.Context, feed Feed, now time.Time) ([]model.Event, error) {
	payload, err := c.Fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, err
	}

	switch feed.Kind {
	case KindJSON:
		return DecodeJSON(feed, payload.Body)

	case KindICS, "":
		parsed, err := ParseICS(feed, payload.Body)
		if err != nil {
			return nil, err
		}
		loc, err := feed.Location()
		if err != nil {
			return nil, err
		}
		res, err := Expand(parsed, ExpandConfig{
			Location:   loc,
			RangeStart: now.Add(-c.backfill()),
			RangeEnd:   now.Add(c.horizon()),
		})
		if err != nil {
			return nil, err
		}
		return res.Events, nil

	default:
		return nil, fmt.Errorf("discovery: feed %s has unknown kind %q", feed.ID, feed.Kind)
	}
}

func (c *Collector) horizon() time.Duration {
	if c.Horizon <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.Horizon
}

func (c *Collector) backfill() time.Duration {
	if c.Backfill <= 0 {
		return 24 * time.Hour
	}
	return c.Backfill
}
