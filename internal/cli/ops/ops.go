// Package ops implements the 'coral-trace ops' commands that query an
// operation store written by the DuckDB sink.
package ops

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/coral-trace/internal/cli/helpers"
	"github.com/coral-mesh/coral-trace/internal/constants"
	tracerrors "github.com/coral-mesh/coral-trace/internal/errors"
	"github.com/coral-mesh/coral-trace/internal/sink"
	"github.com/coral-mesh/coral-trace/internal/store"
)

// NewOpsCmd creates the ops command and its subcommands. logger is used by
// the store for query logging.
func NewOpsCmd(logger *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Query recorded operations",
		Long: `Query operations recorded by the DuckDB sink.

Each slow or stuck operation reported by an instrumented process is one
row. A stuck operation that later completes keeps the same id and its row
is updated in place.`,
	}

	cmd.AddCommand(newListCmd(logger))
	cmd.AddCommand(newShowCmd(logger))
	cmd.AddCommand(newPruneCmd(logger))

	return cmd
}

type operationRow struct {
	ID          string        `header:"ID"`
	Started     time.Time     `header:"STARTED"`
	Duration    time.Duration `header:"DURATION"`
	State       string        `header:"STATE"`
	Username    string        `header:"USER"`
	Events      int64         `header:"EVENTS"`
	Samples     int64         `header:"SAMPLES"`
	Description string        `header:"DESCRIPTION"`
}

func state(op store.Operation) string {
	switch {
	case op.Completed && op.Stuck:
		return "completed (was stuck)"
	case op.Completed:
		return "completed"
	case op.Stuck:
		return "stuck"
	default:
		return "running"
	}
}

func newListCmd(logger *zerolog.Logger) *cobra.Command {
	var (
		dbPath      string
		format      string
		timeFlags   helpers.TimeFlags
		kind        string
		username    string
		minDuration time.Duration
		stuckOnly   bool
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded operations",
		Long: `List recorded operations, most recent first.

Examples:
  # Operations of the last hour
  coral-trace ops list --db /var/lib/orders/trace.duckdb

  # Stuck operations of the last day, as JSON
  coral-trace ops list --since 24h --stuck -o json

  # Operations slower than 5s for one user
  coral-trace ops list --min-duration 5s --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, listFormats); err != nil {
				return err
			}
			tr, err := timeFlags.Parse()
			if err != nil {
				return err
			}
			if kind != "" && kind != string(sink.KindCompleted) && kind != string(sink.KindStuck) {
				return fmt.Errorf("invalid --kind %q, must be completed or stuck", kind)
			}

			filter := store.Filter{
				Since:       tr.Start,
				Until:       tr.End,
				Kind:        sink.Kind(kind),
				Username:    username,
				MinDuration: minDuration,
				StuckOnly:   stuckOnly,
				Limit:       limit,
			}
			return runList(cmd.Context(), cmd.OutOrStdout(), *logger, dbPath, filter, helpers.OutputFormat(format))
		},
	}

	helpers.AddDatabaseFlag(cmd, &dbPath)
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, listFormats)
	timeFlags.AddFlags(cmd.Flags(), "1h")
	cmd.Flags().StringVar(&kind, "kind", "", "Only operations last reported as completed or stuck")
	cmd.Flags().StringVar(&username, "user", "", "Only operations of this user")
	cmd.Flags().DurationVar(&minDuration, "min-duration", 0, "Only operations at least this long")
	cmd.Flags().BoolVar(&stuckOnly, "stuck", false, "Only operations that were reported stuck")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of operations (0 for no limit)")

	return cmd
}

var listFormats = []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON, helpers.FormatCSV}

func runList(ctx context.Context, out io.Writer, logger zerolog.Logger, dbPath string, filter store.Filter, format helpers.OutputFormat) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	st, err := store.OpenReadOnly(dbPath, logger)
	if err != nil {
		return err
	}
	defer tracerrors.DeferClose(logger, st, "Failed to close operation store")

	ops, err := st.ListOperations(ctx, filter)
	if err != nil {
		return err
	}

	if format == helpers.FormatJSON {
		if ops == nil {
			ops = []store.Operation{}
		}
		return (&helpers.JSONFormatter{}).Format(ops, out)
	}

	if len(ops) == 0 {
		_, err := fmt.Fprintln(out, "No operations found.")
		return err
	}

	rows := make([]operationRow, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, operationRow{
			ID:          op.ID,
			Started:     op.StartTime,
			Duration:    op.Duration(),
			State:       state(op),
			Username:    op.Username,
			Events:      op.EventCount,
			Samples:     op.Samples,
			Description: op.Description,
		})
	}
	if format == helpers.FormatCSV {
		return (&helpers.CSVFormatter{}).Format(rows, out)
	}
	return (&helpers.TableFormatter{HeaderStyle: helpers.Render(helpers.HeaderStyle)}).Format(rows, out)
}

func newShowCmd(logger *zerolog.Logger) *cobra.Command {
	var (
		dbPath    string
		format    string
		slow      time.Duration
		maxStacks int
	)

	cmd := &cobra.Command{
		Use:   "show <operation-id>",
		Short: "Show one recorded operation",
		Long: `Show a recorded operation: its trace event tree, per-key duration
metrics and the most frequent sampled stacks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, showFormats); err != nil {
				return err
			}
			opts := showOptions{slow: slow, maxStacks: maxStacks}
			return runShow(cmd.Context(), cmd.OutOrStdout(), *logger, dbPath, args[0], helpers.OutputFormat(format), opts)
		},
	}

	helpers.AddDatabaseFlag(cmd, &dbPath)
	helpers.AddFormatFlag(cmd, &format, helpers.FormatText, showFormats)
	cmd.Flags().DurationVar(&slow, "slow", 0, "Highlight events at least this long (default: a quarter of the operation)")
	cmd.Flags().IntVar(&maxStacks, "stacks", 5, "Number of sampled stacks to print")

	return cmd
}

var showFormats = []helpers.OutputFormat{helpers.FormatText, helpers.FormatJSON}

type showOptions struct {
	slow      time.Duration
	maxStacks int
}

type metricRow struct {
	Name    string        `header:"METRIC"`
	Count   int64         `header:"COUNT"`
	Total   time.Duration `header:"TOTAL"`
	Average time.Duration `header:"AVG"`
	Min     time.Duration `header:"MIN"`
	Max     time.Duration `header:"MAX"`
}

func runShow(ctx context.Context, out io.Writer, logger zerolog.Logger, dbPath, id string, format helpers.OutputFormat, opts showOptions) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	st, err := store.OpenReadOnly(dbPath, logger)
	if err != nil {
		return err
	}
	defer tracerrors.DeferClose(logger, st, "Failed to close operation store")

	d, err := st.Get(ctx, id)
	if err != nil {
		return err
	}

	if format == helpers.FormatJSON {
		return (&helpers.JSONFormatter{}).Format(d, out)
	}
	return writeDetail(out, d, opts)
}

func writeDetail(out io.Writer, d *store.Detail, opts showOptions) error {
	var sb strings.Builder

	title := d.Description
	if d.Stuck && !d.Completed {
		title = helpers.StuckStyle.Render(title + "  STUCK")
	} else {
		title = helpers.TitleStyle.Render(title)
	}
	sb.WriteString(title + "\n")
	fmt.Fprintf(&sb, "  id:         %s\n", d.ID)
	fmt.Fprintf(&sb, "  state:      %s\n", state(d.Operation))
	if d.Username != "" {
		fmt.Fprintf(&sb, "  user:       %s\n", d.Username)
	}
	fmt.Fprintf(&sb, "  started:    %s\n", d.StartTime.Local().Format(time.RFC3339Nano))
	fmt.Fprintf(&sb, "  duration:   %s\n", helpers.FormatDuration(d.Duration()))
	if d.Goroutines != "" {
		fmt.Fprintf(&sb, "  goroutines: %s\n", d.Goroutines)
	}
	if d.EventCount > int64(len(d.Events)) {
		fmt.Fprintf(&sb, "  events:     %d recorded, %d kept\n", d.EventCount, len(d.Events))
	}

	slow := opts.slow
	if slow <= 0 {
		slow = d.Duration() / 4
	}
	sb.WriteString("\n" + helpers.HeaderStyle.Render("Trace") + "\n")
	sb.WriteString(helpers.RenderEventTree(d.Events, d.Duration(), slow))

	if len(d.Metrics) > 0 {
		rows := make([]metricRow, 0, len(d.Metrics))
		for _, m := range d.Metrics {
			r := metricRow{
				Name:  m.Name,
				Count: m.Count,
				Total: time.Duration(m.Total),
				Min:   time.Duration(m.Min),
				Max:   time.Duration(m.Max),
			}
			if m.Count > 0 {
				r.Average = time.Duration(m.Average())
			}
			rows = append(rows, r)
		}
		sb.WriteString("\n" + helpers.HeaderStyle.Render("Metrics") + "\n")
		if err := (&helpers.TableFormatter{}).Format(rows, &sb); err != nil {
			return err
		}
	}

	if len(d.Stacks) > 0 && opts.maxStacks > 0 {
		fmt.Fprintf(&sb, "\n%s\n", helpers.HeaderStyle.Render(fmt.Sprintf("Stacks (%d samples)", d.Samples)))
		stacks := d.Stacks
		if len(stacks) > opts.maxStacks {
			stacks = stacks[:opts.maxStacks]
		}
		for _, s := range stacks {
			fmt.Fprintf(&sb, "  %d x %s\n", s.Count, s.State)
			for i := len(s.Frames) - 1; i >= 0; i-- {
				fmt.Fprintf(&sb, "    %s\n", s.Frames[i])
			}
		}
	}

	_, err := io.WriteString(out, sb.String())
	return err
}

func newPruneCmd(logger *zerolog.Logger) *cobra.Command {
	var (
		dbPath    string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old operations",
		Long: `Delete operations that started before the retention window, with
their events, metrics and stacks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return runPrune(cmd.Context(), cmd.OutOrStdout(), *logger, dbPath, time.Now().Add(-olderThan))
		},
	}

	helpers.AddDatabaseFlag(cmd, &dbPath)
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Retention window")

	return cmd
}

func runPrune(ctx context.Context, out io.Writer, logger zerolog.Logger, dbPath string, cutoff time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	st, err := store.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer tracerrors.DeferClose(logger, st, "Failed to close operation store")

	n, err := st.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Deleted %d operations started before %s\n", n, cutoff.Local().Format(time.RFC3339))
	return err
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, constants.DefaultQueryTimeout)
}
