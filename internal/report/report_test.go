package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rewired-gh/wheelwatch/internal/health"
	"github.com/rewired-gh/wheelwatch/internal/models"
	"github.com/rewired-gh/wheelwatch/internal/monitor"
	"github.com/rewired-gh/wheelwatch/internal/strategy"
)

func TestStatus_Tables(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	last := models.NewOutcome("t1", 5, time.Now())
	st, _ := strategy.Next(strategy.Initial("t1"), 5)
	st.Wins, st.Losses = 3, 1

	w.Status([]monitor.TableStatus{
		{
			Table:    models.Table{ID: "t1", DisplayName: "Speed Roulette"},
			Strategy: st,
			Last:     &last,
			Accepted: 12,
			Rejected: 40,
			Health:   health.TableHealth{TableID: "t1", Cadence: models.Cadence{Interval: 4 * time.Second}},
		},
		{
			Table:    models.Table{ID: "t2"},
			Strategy: strategy.Initial("t2"),
			Health:   health.TableHealth{TableID: "t2", Noisy: true},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "TABLE STATUS")
	assert.Contains(t, out, "Speed Roulette")
	assert.Contains(t, out, "5 red")
	assert.Contains(t, out, "BET ON: 5,6,9")
	assert.Contains(t, out, "WAITING FOR TRIGGER")
	assert.Contains(t, out, "4s")
	assert.Contains(t, out, "noisy")
	assert.Contains(t, out, "Accepted:  12")
	assert.Contains(t, out, "Hit rate:  75.0%")
}

func TestStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf).Status(nil)

	assert.Contains(t, buf.String(), "No tables monitored.")
	assert.NotContains(t, buf.String(), "TOTALS")
}
