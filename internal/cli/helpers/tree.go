package helpers

import (
	"fmt"
	"strings"
	"time"

	"github.com/coral-mesh/coral-trace/internal/sink"
)

// RenderEventTree renders trace events as an ASCII tree. Events whose
// duration is at least slow are highlighted; slow <= 0 disables that.
func RenderEventTree(events []sink.EventRecord, total, slow time.Duration) string {
	if len(events) == 0 {
		return "No trace events.\n"
	}

	byIndex := make(map[int]bool, len(events))
	for _, e := range events {
		byIndex[e.Index] = true
	}
	children := make(map[int][]sink.EventRecord)
	var roots []sink.EventRecord
	for _, e := range events {
		// Parents already reported by an earlier flush are not in the list.
		if e.ParentIndex < 0 || !byIndex[e.ParentIndex] {
			roots = append(roots, e)
			continue
		}
		children[e.ParentIndex] = append(children[e.ParentIndex], e)
	}

	var buf strings.Builder
	for i, r := range roots {
		renderEventNode(&buf, r, children, "", i == len(roots)-1, total, slow)
	}
	buf.WriteString("\n" + renderTreeLegend())
	return buf.String()
}

func renderEventNode(buf *strings.Builder, e sink.EventRecord, children map[int][]sink.EventRecord,
	prefix string, isLast bool, total, slow time.Duration) {
	connector := "├─"
	if isLast {
		connector = "└─"
	}

	percentage := 0.0
	if total > 0 {
		percentage = float64(e.Duration) / float64(total) * 100
	}

	line := fmt.Sprintf("%s (+%s, %s, %.1f%%)", e.Description,
		FormatDuration(e.Offset), FormatDuration(e.Duration), percentage)
	if !e.Completed {
		line += " running"
	}
	if slow > 0 && e.Duration >= slow {
		line = SlowStyle.Render(line + " ← SLOW")
	}
	fmt.Fprintf(buf, "%s%s %s\n", prefix, connector, line)

	childPrefix := prefix
	if isLast {
		childPrefix += "  "
	} else {
		childPrefix += "│ "
	}
	kids := children[e.Index]
	for i, c := range kids {
		renderEventNode(buf, c, children, childPrefix, i == len(kids)-1, total, slow)
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	} else if d < time.Millisecond {
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	} else if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func renderTreeLegend() string {
	return HintStyle.Render(`Legend:
  (+offset, duration, share of operation)
  running = event still open when the operation was recorded`) + "\n"
}
