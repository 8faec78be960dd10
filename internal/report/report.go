// Package report renders compilation results as terminal tables.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/docker/go-units"

	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
	"github.com/aristath/npusched/internal/memsched"
	"github.com/aristath/npusched/internal/pipeline"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(StyleBorder).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleHeader
			}
			return StyleCell
		})
}

func titled(title, body string) string {
	t := StyleTitle.Render(title)
	return lipgloss.JoinVertical(lipgloss.Left, t, body)
}

// Summary renders one row per compiled graph.
func Summary(results []*pipeline.Result) string {
	t := newTable("Graph", "Status", "Tasks", "Makespan", "Spills", "Peak memory", "Barriers", "Attempts", "Time")
	for _, r := range results {
		if r == nil {
			continue
		}
		row := []string{r.Graph, "", strconv.Itoa(r.Tasks), "-", "-", "-", "-", "-", r.Duration.Round(time.Microsecond).String()}
		if r.Err != nil {
			row[1] = StyleStatusFailed.Render("failed")
		} else {
			row[1] = StyleStatusOK.Render("ok")
		}
		if r.Schedule != nil {
			row[3] = strconv.Itoa(r.Schedule.Makespan())
			row[4] = strconv.Itoa(r.Schedule.Spills())
			row[5] = fmt.Sprintf("%s / %s", units.BytesSize(float64(r.PeakMemory)), units.BytesSize(float64(r.Pool)))
		}
		if r.Barriers != nil {
			row[6] = fmt.Sprintf("%d (peak %d)", r.Barriers.Budget, r.Barriers.Result.PeakLive)
			row[7] = strconv.Itoa(r.Barriers.Attempts)
		}
		t.Row(row...)
	}
	return titled("Compilation summary", t.Render())
}

// Errors lists the failure of every graph that did not compile, or "" if all did.
func Errors(results []*pipeline.Result) string {
	var b strings.Builder
	for _, r := range results {
		if r == nil || r.Err == nil {
			continue
		}
		fmt.Fprintf(&b, "%s %s: %v\n", StyleStatusFailed.Render("x"), r.Graph, r.Err)
	}
	return b.String()
}

// Schedule renders the memory schedule of one graph in schedule order.
func Schedule(d *graph.DAG, s *memsched.Schedule) string {
	t := newTable("Time", "Op", "Kind", "Engine", "Intervals")
	for _, op := range s.Ops {
		kind := op.Kind.String()
		if op.Kind != memsched.OpOriginal {
			kind = StyleSpill.Render(kind)
		}
		engine := d.ExecutorKind(op.Task).String()
		if op.Kind != memsched.OpOriginal {
			// Spills run on the DMA engine whatever the task's own engine is
			engine = graph.ExecutorDataMover.String()
		}
		t.Row(strconv.Itoa(op.Time), d.TaskName(op.Task), kind, engine, intervals(d, op.Intervals))
	}
	return titled(fmt.Sprintf("Schedule of %s (makespan %d, %d spills)", d.Name, s.Makespan(), s.Spills()), t.Render())
}

func intervals(d *graph.DAG, ivs []memsched.Interval) string {
	parts := make([]string, 0, len(ivs))
	for _, iv := range ivs {
		parts = append(parts, fmt.Sprintf("%s [%d, %d) %s", d.BufferName(iv.Buffer), iv.Begin, iv.End, units.BytesSize(float64(iv.Size()))))
	}
	return strings.Join(parts, ", ")
}

// Barriers renders the physical slot assignment of a compiled graph.
func Barriers(r *pipeline.Result) string {
	if r.Barriers == nil {
		return ""
	}
	t := newTable("Virtual", "Name", "Slot", "Producers", "Consumers", "Next on slot")
	for v, b := range r.Barriers.Result.Barriers {
		next := "-"
		if b.NextSameID >= 0 {
			next = strconv.Itoa(b.NextSameID)
		}
		t.Row(strconv.Itoa(v), r.Barriers.Stream.Barriers[v].Name, strconv.Itoa(b.RealID),
			strconv.Itoa(b.ProducerCount), strconv.Itoa(b.ConsumerCount), next)
	}
	title := fmt.Sprintf("Barriers of %s (budget %d of %d available, %d attempts)",
		r.Graph, r.Barriers.Budget, r.Barriers.Result.Available, r.Barriers.Attempts)
	return titled(title, t.Render())
}

// Progress renders a one-line progress bar for a batch.
func Progress(ev events.BatchProgressEvent, width int) string {
	counts := fmt.Sprintf(" %d/%d", ev.Completed+ev.Failed, ev.Total)
	if ev.Total <= 0 {
		return counts
	}
	barWidth := max(width-lipgloss.Width(counts)-2, 10)
	completedWidth := (ev.Completed * barWidth) / ev.Total
	failedWidth := (ev.Failed * barWidth) / ev.Total
	pendingWidth := barWidth - completedWidth - failedWidth

	bar := StyleStatusOK.Render(strings.Repeat("=", max(0, completedWidth))) +
		StyleStatusFailed.Render(strings.Repeat("x", max(0, failedWidth))) +
		StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
	return "[" + bar + "]" + counts
}
