// Package report renders the monitored tables as a console table.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rewired-gh/wheelwatch/internal/models"
	"github.com/rewired-gh/wheelwatch/internal/monitor"
	"github.com/rewired-gh/wheelwatch/internal/strategy"
)

// Writer prints status reports to out.
type Writer struct {
	out io.Writer
	now func() time.Time
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out, now: time.Now}
}

// Status prints one row per table followed by the totals.
func (w *Writer) Status(tables []monitor.TableStatus) {
	fmt.Fprintf(w.out, "========================================================\n")
	fmt.Fprintf(w.out, "  TABLE STATUS  %s\n", w.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w.out, "========================================================\n\n")

	if len(tables) == 0 {
		fmt.Fprintf(w.out, "  No tables monitored.\n")
		return
	}

	tbl := tablewriter.NewWriter(w.out)
	tbl.Header("Table", "Last", "State", "Signal", "Wins", "Losses", "Accepted", "Rejected", "Interval")

	var wins, losses, accepted, rejected int
	for _, st := range tables {
		tbl.Append(
			st.Table.Name(),
			lastValue(st.Last),
			string(st.Strategy.State),
			strategy.DisplayText(st.Strategy.State, strategy.DisplayTerminals(st.Strategy.Terminals)),
			strconv.Itoa(st.Strategy.Wins),
			strconv.Itoa(st.Strategy.Losses),
			strconv.Itoa(st.Accepted),
			strconv.Itoa(st.Rejected),
			interval(st),
		)
		wins += st.Strategy.Wins
		losses += st.Strategy.Losses
		accepted += st.Accepted
		rejected += st.Rejected
	}
	tbl.Render()

	fmt.Fprintf(w.out, "\n  --- TOTALS ---\n")
	fmt.Fprintf(w.out, "  Tables:    %d\n", len(tables))
	fmt.Fprintf(w.out, "  Accepted:  %d\n", accepted)
	fmt.Fprintf(w.out, "  Rejected:  %d\n", rejected)
	fmt.Fprintf(w.out, "  Wins:      %d\n", wins)
	fmt.Fprintf(w.out, "  Losses:    %d\n", losses)
	if wins+losses > 0 {
		fmt.Fprintf(w.out, "  Hit rate:  %.1f%%\n", 100*float64(wins)/float64(wins+losses))
	}
}

func lastValue(o *models.Outcome) string {
	if o == nil {
		return "-"
	}
	return fmt.Sprintf("%d %s", o.Value, o.Color)
}

func interval(st monitor.TableStatus) string {
	if st.Health.Noisy {
		return "noisy"
	}
	if st.Health.Interval == 0 {
		return "-"
	}
	return st.Health.Interval.Round(100 * time.Millisecond).String()
}
