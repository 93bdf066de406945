package dedup

import (
	"context"
	"slices"
	"time"
)

type candidate struct {
	mem   *Memory
	value int
	sig   signature
	now   time.Time

	stored       []int
	storedLoaded bool
}

// storeRecent reads the store at most once per candidate.
func (c *candidate) storeRecent(ctx context.Context, d *Deduplicator) []int {
	if !c.storedLoaded {
		c.stored = d.storeRecent(ctx, c.mem)
		c.storedLoaded = true
	}
	return c.stored
}

// sinceLastAccept is the time since the table's last accepted outcome, or a
// very large duration when nothing has been accepted yet.
func (c *candidate) sinceLastAccept() time.Duration {
	if c.mem.LastAccepted == nil {
		return time.Duration(1<<63 - 1)
	}
	return c.now.Sub(c.mem.LastAccepted.ObservedAt)
}

type rule struct {
	reason Reason
	reject func(ctx context.Context, d *Deduplicator, c *candidate) bool
}

func defaultRules() []rule {
	return []rule{
		{ReasonDuplicateSignature, func(_ context.Context, d *Deduplicator, c *candidate) bool {
			return d.signatures.SeenWithin(c.sig, c.now, d.cfg.MinRepeat)
		}},
		{ReasonTooSoonRepeat, func(_ context.Context, d *Deduplicator, c *candidate) bool {
			last := c.mem.LastAccepted
			return last != nil && last.Value == c.value && c.sinceLastAccept() < d.cfg.MinRepeat
		}},
		{ReasonHeadOfSequence, func(_ context.Context, _ *Deduplicator, c *candidate) bool {
			head, ok := c.mem.Head()
			return ok && head == c.value
		}},
		{ReasonDuplicateVsStore, func(ctx context.Context, d *Deduplicator, c *candidate) bool {
			recent := c.storeRecent(ctx, d)
			return len(recent) > 0 && recent[0] == c.value && c.sinceLastAccept() < d.cfg.MinRepeat
		}},
		{ReasonRecentlyListed, func(ctx context.Context, d *Deduplicator, c *candidate) bool {
			recent := c.storeRecent(ctx, d)
			if len(recent) > d.cfg.RecentDepth {
				recent = recent[:d.cfg.RecentDepth]
			}
			return slices.Contains(recent, c.value) && c.sinceLastAccept() < d.cfg.RecentWindow
		}},
	}
}
