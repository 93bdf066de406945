package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a notification kind on the wire.
type EventType string

const (
	EventNewNumber      EventType = "new_number"
	EventStrategyUpdate EventType = "strategy_update"
)

// Event is a notification fanned out to live subscribers. Exactly one of the
// embedded payloads is set; their fields are flattened into the JSON object.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	TableID     string    `json:"table_id"`
	DisplayName string    `json:"display_name"`

	*NumberEvent
	*StrategyEvent
}

type NumberEvent struct {
	Value      int       `json:"value"`
	Color      Color     `json:"color"`
	ObservedAt time.Time `json:"observed_at"`
}

type StrategyEvent struct {
	State        State  `json:"state"`
	TriggerValue int    `json:"trigger_value"`
	Terminals    []int  `json:"terminals"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"derrotas"`
	DisplayText  string `json:"display_text"`
}

// NewNumberEvent announces an accepted outcome. The event id is the outcome id so
// consumers can drop duplicates seen across a replay/subscribe boundary.
func NewNumberEvent(table Table, o Outcome) Event {
	return Event{
		ID:          o.ID.String(),
		Type:        EventNewNumber,
		TableID:     table.ID,
		DisplayName: table.Name(),
		NumberEvent: &NumberEvent{
			Value:      o.Value,
			Color:      o.Color,
			ObservedAt: o.ObservedAt,
		},
	}
}

// NewStrategyEvent announces a strategy transition.
func NewStrategyEvent(table Table, se StrategyEvent) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          EventStrategyUpdate,
		TableID:       table.ID,
		DisplayName:   table.Name(),
		StrategyEvent: &se,
	}
}
