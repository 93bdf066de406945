// Package models defines the core domain values: tables, outcomes, strategy state and events.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinValue = 0
	MaxValue = 36
)

// ErrInvalidValue is returned when observed text does not denote a wheel value.
var ErrInvalidValue = errors.New("invalid wheel value")

// Color is the pocket color of a wheel value.
type Color string

const (
	ColorGreen Color = "green"
	ColorRed   Color = "red"
	ColorBlack Color = "black"
)

var redValues = [MaxValue + 1]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true,
	14: true, 16: true, 18: true, 19: true, 21: true, 23: true,
	25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// ColorOf classifies v. It panics on values outside 0..36; use ParseValue first.
func ColorOf(v int) Color {
	switch {
	case v == 0:
		return ColorGreen
	case redValues[v]:
		return ColorRed
	default:
		return ColorBlack
	}
}

// ValidValue reports whether v is a pocket on the wheel.
func ValidValue(v int) bool {
	return v >= MinValue && v <= MaxValue
}

// ParseValue extracts a wheel value from rendered text. Non-digit characters are
// discarded first, so "  17 " and "17 " both parse.
func ParseValue(raw string) (int, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, raw)
	}
	// more than two digits can never be a pocket and would overflow Atoi on junk
	if len(digits) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, raw)
	}
	v, err := strconv.Atoi(digits)
	if err != nil || !ValidValue(v) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, raw)
	}
	return v, nil
}

// Outcome is one accepted result of a table. It is immutable once built.
type Outcome struct {
	ID         uuid.UUID `json:"id"`
	TableID    string    `json:"table_id"`
	Value      int       `json:"value"`
	Color      Color     `json:"color"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewOutcome builds an outcome with a fresh identity and derived color.
func NewOutcome(tableID string, value int, observedAt time.Time) Outcome {
	return Outcome{
		ID:         uuid.New(),
		TableID:    tableID,
		Value:      value,
		Color:      ColorOf(value),
		ObservedAt: observedAt,
	}
}
