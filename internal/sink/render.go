package sink

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteText renders rec as an indented, human readable trace.
//
//	GET /orders  (alice)  3.2s  completed
//	  +0s      3.2s   GET /orders
//	  +1ms     3.1s     SELECT * FROM orders
func WriteText(w io.Writer, rec Record) error {
	var sb strings.Builder

	state := "running"
	switch {
	case rec.Completed:
		state = "completed"
	case rec.Stuck:
		state = "stuck"
	}
	fmt.Fprintf(&sb, "%s", rec.Description)
	if rec.Username != "" {
		fmt.Fprintf(&sb, "  (%s)", rec.Username)
	}
	fmt.Fprintf(&sb, "  %s  %s", formatDuration(rec.Duration), state)
	if rec.ID != "" {
		fmt.Fprintf(&sb, "  id=%s", rec.ID)
	}
	sb.WriteByte('\n')

	for _, e := range rec.Events {
		marker := ""
		if !e.Completed {
			marker = " *"
		}
		fmt.Fprintf(&sb, "  %-9s %-8s %s%s%s\n",
			"+"+formatDuration(e.Offset),
			formatDuration(e.Duration),
			strings.Repeat("  ", e.Level),
			e.Description,
			marker)
	}
	if rec.EventCount > len(rec.Events) {
		fmt.Fprintf(&sb, "  ... %d earlier events already reported\n", rec.EventCount-len(rec.Events))
	}

	if len(rec.Metrics) > 0 {
		sb.WriteString("  metrics:\n")
		for _, m := range rec.Metrics {
			fmt.Fprintf(&sb, "    %-30s count=%d total=%s avg=%s min=%s max=%s\n",
				m.Name, m.Count,
				formatDuration(time.Duration(m.Total)),
				formatDuration(time.Duration(m.Average())),
				formatDuration(time.Duration(m.Min)),
				formatDuration(time.Duration(m.Max)))
		}
	}

	if len(rec.Stacks) > 0 {
		fmt.Fprintf(&sb, "  stack samples: %d\n", rec.Samples)
		for _, s := range rec.Stacks {
			fmt.Fprintf(&sb, "    %d x %s\n", s.Count, s.State)
			for i := len(s.Frames) - 1; i >= 0; i-- {
				fmt.Fprintf(&sb, "      %s\n", s.Frames[i])
			}
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.String()
	}
}
