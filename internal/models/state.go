package models

import (
	"time"
)

// NoValue marks an unset trigger or outcome.
const NoValue = -1

// State is a phase of the per-table trigger strategy.
type State string

const (
	StateNeutral           State = "NEUTRAL"
	StateTriggered         State = "TRIGGERED"
	StatePostAdjustNeutral State = "POST_ADJUST_NEUTRAL"
	StateExhausted         State = "EXHAUSTED"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNeutral, StateTriggered, StatePostAdjustNeutral, StateExhausted:
		return true
	}
	return false
}

type StrategyState struct {
	TableID string `json:"table_id"`
	State   State  `json:"state"`

	TriggerValue         int   `json:"trigger_value"`
	PreviousTriggerValue int   `json:"previous_trigger_value"`
	Terminals            []int `json:"terminals"`
	PreviousTerminals    []int `json:"previous_terminals"`

	Wins   int `json:"wins"`
	Losses int `json:"derrotas"`

	LastOutcome int `json:"last_outcome"`
}

// Cadence is the adaptive polling state of one table.
type Cadence struct {
	Interval       time.Duration `json:"interval"`
	NoiseStreak    int           `json:"noise_streak"`
	ErrorStreak    int           `json:"error_streak"`
	LastActivityAt time.Time     `json:"last_activity_at"`
}
