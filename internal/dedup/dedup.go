// Package dedup decides whether a freshly extracted value is a new outcome or a
// re-observation of one already accepted.
//
// Values legitimately repeat on a wheel, so no single check is enough. Accept
// runs an ordered list of rules and the first one that matches rejects the
// value; each rule catches a different way the same draw can be seen twice.
package dedup

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rewired-gh/wheelwatch/internal/logger"
	"github.com/rewired-gh/wheelwatch/internal/models"
)

type Config struct {
	// MinRepeat must stay below the fastest real re-draw of a table and above
	// the slowest re-observation jitter of the surface.
	MinRepeat       time.Duration
	SignatureWindow time.Duration
	// RecentWindow guards against values re-read from the store's last few rows.
	RecentWindow  time.Duration
	RecentDepth   int
	SequenceDepth int
	MaxSignatures int
}

func DefaultConfig() Config {
	return Config{
		MinRepeat:       5 * time.Second,
		SignatureWindow: 3 * time.Second,
		RecentWindow:    5 * time.Second,
		RecentDepth:     3,
		SequenceDepth:   24,
		MaxSignatures:   1000,
	}
}

// Reason names the rule that rejected a value.
type Reason string

const (
	ReasonInvalid            Reason = "invalid"
	ReasonDuplicateSignature Reason = "duplicate-signature"
	ReasonTooSoonRepeat      Reason = "too-soon-repeat"
	ReasonHeadOfSequence     Reason = "already-head-of-sequence"
	ReasonDuplicateVsStore   Reason = "duplicate-vs-store"
	ReasonRecentlyListed     Reason = "recently-listed"
)

// RejectedError is returned by Accept when a value is not a new outcome.
type RejectedError struct {
	TableID string
	Raw     string
	Reason  Reason
	Err     error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("table %s: %s rejected: %s: %v", e.TableID, e.Raw, e.Reason, e.Err)
	}
	return fmt.Sprintf("table %s: %s rejected: %s", e.TableID, e.Raw, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Store reads what has already been persisted for a table.
type Store interface {
	RecentOutcomes(ctx context.Context, tableID string, limit int) ([]int, error)
}

// Memory is the rolling per-table state. It is owned by the table's poller and
// must not be shared between goroutines.
type Memory struct {
	TableID      string
	LastAccepted *models.Outcome
	// Sequence holds accepted values, most recent first.
	Sequence []int

	storeLoaded bool
	storeRecent []int
}

func NewMemory(tableID string) *Memory {
	return &Memory{TableID: tableID}
}

// Head returns the most recently accepted value.
func (m *Memory) Head() (int, bool) {
	if len(m.Sequence) == 0 {
		return 0, false
	}
	return m.Sequence[0], true
}

type Deduplicator struct {
	cfg        Config
	signatures *SignatureIndex
	store      Store
	rules      []rule
}

// New builds a deduplicator. store may be nil, which disables the store rules.
func New(cfg Config, signatures *SignatureIndex, store Store) *Deduplicator {
	if signatures == nil {
		signatures = NewSignatureIndex(cfg.MaxSignatures)
	}
	return &Deduplicator{
		cfg:        cfg,
		signatures: signatures,
		store:      store,
		rules:      defaultRules(),
	}
}

// Accept turns raw into an Outcome or returns a *RejectedError naming the rule
// that matched. On acceptance mem is updated and the signature recorded.
func (d *Deduplicator) Accept(ctx context.Context, mem *Memory, raw string, now time.Time) (models.Outcome, error) {
	value, err := models.ParseValue(raw)
	if err != nil {
		return models.Outcome{}, &RejectedError{TableID: mem.TableID, Raw: raw, Reason: ReasonInvalid, Err: err}
	}

	c := &candidate{
		mem:   mem,
		value: value,
		sig:   d.signatureOf(mem.TableID, value, now),
		now:   now,
	}
	for _, r := range d.rules {
		if r.reject(ctx, d, c) {
			return models.Outcome{}, &RejectedError{TableID: mem.TableID, Raw: raw, Reason: r.reason}
		}
	}

	out := models.NewOutcome(mem.TableID, value, now)
	mem.LastAccepted = &out
	mem.Sequence = slices.Insert(mem.Sequence, 0, value)
	if len(mem.Sequence) > d.cfg.SequenceDepth {
		mem.Sequence = mem.Sequence[:d.cfg.SequenceDepth]
	}
	if mem.storeLoaded {
		mem.storeRecent = slices.Insert(mem.storeRecent, 0, value)
		if len(mem.storeRecent) > d.cfg.RecentDepth {
			mem.storeRecent = mem.storeRecent[:d.cfg.RecentDepth]
		}
	}
	d.signatures.Record(c.sig, now)
	return out, nil
}

// Forget releases the shared state held for tableID.
func (d *Deduplicator) Forget(tableID string) {
	d.signatures.Forget(tableID)
}

func (d *Deduplicator) signatureOf(tableID string, value int, now time.Time) signature {
	w := d.cfg.SignatureWindow
	if w <= 0 {
		w = time.Second
	}
	return signature{tableID: tableID, value: value, bucket: now.UnixNano() / int64(w)}
}

// storeRecent lazily loads the table's last persisted values once; afterwards
// the cache is maintained by Accept.
func (d *Deduplicator) storeRecent(ctx context.Context, mem *Memory) []int {
	if d.store == nil || mem.storeLoaded {
		return mem.storeRecent
	}
	depth := max(d.cfg.RecentDepth, 1)
	vals, err := d.store.RecentOutcomes(ctx, mem.TableID, depth)
	if err != nil {
		logger.Warn("Failed to read recent outcomes", "table", mem.TableID, "error", err)
		return nil
	}
	mem.storeLoaded = true
	mem.storeRecent = vals
	return vals
}
