package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/ammkeeper/internal/domain"
)

// Console implements ports.Reporter on a terminal.
type Console struct {
	out io.Writer
	now func() time.Time
}

// NewConsole creates a reporter that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, now: time.Now}
}

// NewConsoleWriter creates a reporter on w, for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now}
}

// Report prints the lifetime counters and what the last cycle did.
func (c *Console) Report(_ context.Context, stats domain.KeeperStats, last domain.CycleSummary) error {
	fmt.Fprintf(c.out, "\n[%s] keeper stats (last run %s)\n",
		c.now().Format("15:04:05"), lastRunLabel(stats.LastRun))

	table := tablewriter.NewWriter(c.out)
	table.Header("Counter", "Value")
	table.Append("orders executed", fmt.Sprintf("%d", stats.OrdersExecuted))
	table.Append("positions liquidated", fmt.Sprintf("%d", stats.PositionsLiquidated))
	table.Append("prices updated", fmt.Sprintf("%d", stats.PricesUpdated))
	table.Append("errors", fmt.Sprintf("%d", stats.Errors))
	table.Render()

	if last.ID == "" {
		return nil
	}

	if last.Paused {
		fmt.Fprintf(c.out, "  cycle #%d: system paused\n", last.Tick)
		return nil
	}

	fmt.Fprintf(c.out, "  cycle #%d [%s] %s: orders=%d positions=%d stale=%d lookup_failures=%d\n",
		last.Tick, phasesLabel(last.Phases), last.Duration.Round(time.Millisecond),
		last.OrdersFound, last.PositionsFound, last.StaleTokens, last.LookupFailures)

	if len(last.Outcomes) == 0 {
		return nil
	}

	out := tablewriter.NewWriter(c.out)
	out.Header("Target", "Outcome", "Attempts", "Tx", "Reason")
	for _, o := range last.Outcomes {
		out.Append(
			o.Target(),
			o.Kind.String(),
			fmt.Sprintf("%d", o.Attempts),
			shortHash(o.TxHash()),
			truncate(o.Reason, 48),
		)
	}
	out.Render()
	return nil
}

// PrintHistory prints journal entries, as returned by the journal (newest first).
func (c *Console) PrintHistory(entries []domain.JournalEntry, cycles, paused int, since time.Time) {
	fmt.Fprintf(c.out, "\n=== KEEPER HISTORY since %s ===\n", since.Format("2006-01-02 15:04"))
	fmt.Fprintf(c.out, "  cycles: %d (paused: %d)\n", cycles, paused)

	if len(entries) == 0 {
		fmt.Fprintln(c.out, "  No outcomes recorded.")
		return
	}

	counts := make(map[domain.OutcomeKind]int)
	for _, e := range entries {
		counts[e.Outcome]++
	}
	fmt.Fprintf(c.out, "  success: %d  already_done: %d  economic: %d  transient: %d  unknown: %d\n\n",
		counts[domain.OutcomeSuccess],
		counts[domain.OutcomeAlreadyDone],
		counts[domain.OutcomeEconomicRejection],
		counts[domain.OutcomeTransientFailure],
		counts[domain.OutcomeUnknownFailure],
	)

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Target", "Outcome", "Attempts", "Tx", "Reason")
	for _, e := range entries {
		table.Append(
			e.RecordedAt.Local().Format("01-02 15:04:05"),
			e.Target,
			e.Outcome.String(),
			fmt.Sprintf("%d", e.Attempts),
			shortHash(e.TxHash),
			truncate(e.Reason, 48),
		)
	}
	table.Render()
}

func lastRunLabel(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("15:04:05")
}

func phasesLabel(phases []domain.Phase) string {
	if len(phases) == 0 {
		return "-"
	}
	parts := make([]string, len(phases))
	for i, p := range phases {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:8] + ".." + h[len(h)-4:]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
