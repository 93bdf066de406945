// Package extractor reads the latest visible outcome of a table from the shared
// session with a bounded wait.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/wheelwatch/internal/models"
)

// ErrSession marks failures of the underlying session, as opposed to a table
// that simply shows nothing yet.
var ErrSession = errors.New("extractor: session failure")

// recentDepth is how many visible values are reported alongside the latest.
const recentDepth = 5

// Session is the rendered surface the values are read from.
type Session interface {
	// Read returns the values currently shown for tableID, most recent first.
	// An empty result means nothing is rendered; an error means the session
	// itself is unusable.
	Read(ctx context.Context, tableID string) ([]string, error)
	// Watch returns a channel signalled whenever the table's surface changes.
	// The channel is closed when ctx is done.
	Watch(ctx context.Context, tableID string) <-chan struct{}
}

// Reading is the result of one observation.
type Reading struct {
	// Raw is the latest value as rendered; empty when nothing was observed.
	Raw string
	// Recent holds up to five parsed visible values, most recent first.
	Recent []int
}

// Found reports whether a value was observed.
func (r Reading) Found() bool {
	return r.Raw != ""
}

type Extractor struct {
	session Session
	limiter *rate.Limiter
}

// New wraps session. limiter throttles reads across every table sharing the
// session; nil means unlimited.
func New(session Session, limiter *rate.Limiter) *Extractor {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Extractor{session: session, limiter: limiter}
}

// ObserveLatest returns the latest value shown for tableID. It checks once
// immediately, then waits for surface changes up to timeout, re-checking on
// each, and checks a final time when the timeout expires. No value within the
// timeout is not an error; only session failures are reported.
func (e *Extractor) ObserveLatest(ctx context.Context, tableID string, timeout time.Duration) (Reading, error) {
	r, err := e.check(ctx, tableID)
	if err != nil || r.Found() {
		return r, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	changes := e.session.Watch(waitCtx, tableID)

	for {
		select {
		case _, ok := <-changes:
			if ok {
				if r, err = e.check(ctx, tableID); err != nil || r.Found() {
					return r, err
				}
				continue
			}
			// watch ended; fall through to the final check once the wait is over
			<-waitCtx.Done()
		case <-waitCtx.Done():
		}
		if ctx.Err() != nil {
			return Reading{}, ctx.Err()
		}
		return e.check(ctx, tableID)
	}
}

func (e *Extractor) check(ctx context.Context, tableID string) (Reading, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return Reading{}, err
	}
	vals, err := e.session.Read(ctx, tableID)
	if err != nil {
		if ctx.Err() != nil {
			return Reading{}, ctx.Err()
		}
		return Reading{}, fmt.Errorf("%w: table %s: %v", ErrSession, tableID, err)
	}
	return newReading(vals), nil
}

func newReading(vals []string) Reading {
	var r Reading
	for _, raw := range vals {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if r.Raw == "" {
			r.Raw = raw
		}
		if v, err := models.ParseValue(raw); err == nil {
			r.Recent = append(r.Recent, v)
			if len(r.Recent) == recentDepth {
				break
			}
		}
	}
	return r
}
