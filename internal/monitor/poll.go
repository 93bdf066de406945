package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rewired-gh/wheelwatch/internal/dedup"
	"github.com/rewired-gh/wheelwatch/internal/extractor"
	"github.com/rewired-gh/wheelwatch/internal/logger"
	"github.com/rewired-gh/wheelwatch/internal/models"
	"github.com/rewired-gh/wheelwatch/internal/strategy"
)

func (m *Monitor) pollLoop(ctx context.Context, ts *tableState) {
	if m.store != nil {
		pctx, cancel := context.WithTimeout(ctx, m.cfg.PersistTimeout)
		if err := m.store.EnsureTable(pctx, ts.table); err != nil {
			logger.Warn("Failed to register table", "table", ts.table.ID, "error", err)
		}
		cancel()
	}
	logger.Debug("Polling table", "table", ts.table.ID, "name", ts.table.Name())

	for {
		m.pollOnce(ctx, ts)

		timer := time.NewTimer(m.supervisor.Interval(ts.table.ID))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context, ts *tableState) {
	id := ts.table.ID

	reading, err := m.observe(ctx, id)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, errRestarting):
			logger.Debug("Observation interrupted by restart", "table", id)
		case errors.Is(err, extractor.ErrSession):
			m.supervisor.OnExtractError(id)
			logger.Warn("Extraction failed", "table", id, "error", err)
		default:
			logger.Debug("Observation skipped", "table", id, "error", err)
		}
		return
	}
	if !reading.Found() {
		m.supervisor.OnEmpty(id)
		return
	}

	now := m.now()
	outcome, err := m.dedup.Accept(ctx, ts.memory, reading.Raw, now)
	if err != nil {
		var rej *dedup.RejectedError
		if errors.As(err, &rej) && rej.Reason == dedup.ReasonInvalid {
			logger.Warn("Invalid value observed", "table", id, "raw", reading.Raw)
			return
		}
		ts.mu.Lock()
		ts.rejected++
		ts.mu.Unlock()
		logger.Debug("Observation rejected", "table", id, "raw", reading.Raw, "error", err)
		m.supervisor.OnObserved(id, false, now)
		return
	}

	m.handleOutcome(ctx, ts, outcome, reading.Recent)
	m.supervisor.OnObserved(id, true, now)
}

// observe runs one bounded extraction under the session read lock. The
// observation is cancelled when a restart begins.
func (m *Monitor) observe(ctx context.Context, tableID string) (extractor.Reading, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	gen := m.generation()
	obsCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(gen, cancel)
	defer stop()

	r, err := m.extractor.ObserveLatest(obsCtx, tableID, m.cfg.ExtractTimeout)
	if err != nil && gen.Err() != nil && ctx.Err() == nil {
		return extractor.Reading{}, errRestarting
	}
	return r, err
}

func (m *Monitor) handleOutcome(ctx context.Context, ts *tableState, o models.Outcome, recent []int) {
	ts.mu.Lock()
	next, updates := strategy.Next(ts.strategy, o.Value)
	ts.strategy = next
	ts.last = &o
	ts.accepted++
	ts.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(models.NewNumberEvent(ts.table, o))
		for _, u := range updates {
			m.bus.Publish(models.NewStrategyEvent(ts.table, u.Event()))
		}
	}
	m.persist(ctx, ts.table, o, next)

	logger.Info("Outcome accepted",
		"table", ts.table.ID,
		"value", o.Value,
		"color", o.Color,
		"state", next.State,
		"wins", next.Wins,
		"losses", next.Losses,
		"visible", recent,
	)
}

// persist writes the outcome and the strategy state. Each write is attempted
// regardless of the other and neither is retried here.
func (m *Monitor) persist(ctx context.Context, table models.Table, o models.Outcome, st models.StrategyState) {
	if m.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PersistTimeout)
	defer cancel()

	if err := m.store.InsertOutcome(pctx, table, o); err != nil {
		logger.Error("Failed to persist outcome", "table", table.ID, "value", o.Value, "error", err)
	}
	if err := m.store.UpsertStrategyState(pctx, table, st); err != nil {
		logger.Error("Failed to persist strategy state", "table", table.ID, "error", err)
	}
}
