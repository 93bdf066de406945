package models

import (
	"errors"

	"github.com/google/uuid"
)

// Table identifies one monitored wheel. It never changes during a session.
type Table struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Validate checks table field constraints.
func (t Table) Validate() error {
	if t.ID == "" {
		return errors.New("table ID must not be empty")
	}
	return nil
}

// Name returns the display name, falling back to the ID.
func (t Table) Name() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.ID
}

// TableUUID derives a stable name-based UUID for a table id, so the same wheel
// keeps its key across restarts and reinstalls.
func TableUUID(tableID string) uuid.UUID {
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(tableID))
}
