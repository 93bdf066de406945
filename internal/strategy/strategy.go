// Package strategy implements the per-table two-attempt trigger state machine.
//
// Next is a pure function: feeding the same outcomes from the same starting
// state always yields the same state and counters.
package strategy

import (
	"slices"

	"github.com/rewired-gh/wheelwatch/internal/models"
)

// Initial returns the state of a table that has not seen any outcome yet.
func Initial(tableID string) models.StrategyState {
	return models.StrategyState{
		TableID:              tableID,
		State:                models.StateNeutral,
		TriggerValue:         models.NoValue,
		PreviousTriggerValue: models.NoValue,
		LastOutcome:          models.NoValue,
	}
}

// Update describes one transition for notification and persistence.
type Update struct {
	TableID      string
	State        models.State
	TriggerValue int
	Terminals    []int
	Wins         int
	Losses       int
	DisplayText  string
}

// Event converts the update into its wire payload.
func (u Update) Event() models.StrategyEvent {
	return models.StrategyEvent{
		State:        u.State,
		TriggerValue: u.TriggerValue,
		Terminals:    u.Terminals,
		Wins:         u.Wins,
		Losses:       u.Losses,
		DisplayText:  u.DisplayText,
	}
}

func describe(st models.StrategyState) Update {
	terminals := DisplayTerminals(st.Terminals)
	return Update{
		TableID:      st.TableID,
		State:        st.State,
		TriggerValue: st.TriggerValue,
		Terminals:    terminals,
		Wins:         st.Wins,
		Losses:       st.Losses,
		DisplayText:  DisplayText(st.State, terminals),
	}
}

// Next advances st by one accepted outcome v and returns the new state with one
// update per transition taken. EXHAUSTED yields two: back to NEUTRAL, then the
// fresh trigger opened by v. st is not modified.
func Next(st models.StrategyState, v int) (models.StrategyState, []Update) {
	next := clone(st)
	if !next.State.Valid() {
		next.State = models.StateNeutral
	}

	var updates []Update
	if next.State == models.StateExhausted {
		next = reset(next)
		updates = append(updates, describe(next))
	}

	switch next.State {
	case models.StateNeutral:
		next.TriggerValue = v
		next.Terminals = Terminals(v)
		next.State = models.StateTriggered

	case models.StateTriggered:
		if slices.Contains(next.Terminals, v) {
			next.Wins++
			next = reset(next)
			break
		}
		next.PreviousTriggerValue = next.TriggerValue
		next.PreviousTerminals = next.Terminals
		next.TriggerValue = v
		next.Terminals = Terminals(v)
		next.State = models.StatePostAdjustNeutral

	case models.StatePostAdjustNeutral:
		if slices.Contains(next.Terminals, v) {
			next.Wins++
			next = reset(next)
			break
		}
		next.Losses++
		next.State = models.StateExhausted
	}

	next.LastOutcome = v
	updates = append(updates, describe(next))
	return next, updates
}

// replay folds a sequence of outcomes into st, oldest first.
func replay(st models.StrategyState, values []int) models.StrategyState {
	for _, v := range values {
		st, _ = Next(st, v)
	}
	return st
}

func reset(st models.StrategyState) models.StrategyState {
	st.State = models.StateNeutral
	st.TriggerValue = models.NoValue
	st.PreviousTriggerValue = models.NoValue
	st.Terminals = nil
	st.PreviousTerminals = nil
	return st
}

func clone(st models.StrategyState) models.StrategyState {
	st.Terminals = slices.Clone(st.Terminals)
	st.PreviousTerminals = slices.Clone(st.PreviousTerminals)
	return st
}
