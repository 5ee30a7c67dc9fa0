package helpers

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// TimeRange represents a start and end time for a query. A zero bound is
// open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// TimeFlags holds the flag values for time range parsing.
type TimeFlags struct {
	Since string
	From  string
	To    string

	// Now defaults to time.Now.
	Now func() time.Time
}

// AddFlags adds time range flags to a FlagSet.
func (f *TimeFlags) AddFlags(flags *pflag.FlagSet, defaultSince string) {
	flags.StringVar(&f.Since, "since", defaultSince, "Show operations started within duration (e.g. 5m, 1h, empty for all)")
	flags.StringVar(&f.From, "from", "", "Start time (RFC3339 or 'now')")
	flags.StringVar(&f.To, "to", "", "End time (RFC3339 or 'now')")
}

// Parse returns a TimeRange. --from/--to take priority over --since; with
// neither the range is unbounded.
func (f *TimeFlags) Parse() (TimeRange, error) {
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}

	if f.From != "" || f.To != "" {
		var r TimeRange
		var err error
		if f.From != "" {
			if r.Start, err = parseTime(f.From, now); err != nil {
				return TimeRange{}, fmt.Errorf("invalid --from time: %w", err)
			}
		}
		if f.To != "" {
			if r.End, err = parseTime(f.To, now); err != nil {
				return TimeRange{}, fmt.Errorf("invalid --to time: %w", err)
			}
		}
		if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
			return TimeRange{}, fmt.Errorf("end time cannot be before start time")
		}
		return r, nil
	}

	if f.Since != "" {
		d, err := time.ParseDuration(f.Since)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid --since duration: %w", err)
		}
		if d <= 0 {
			return TimeRange{}, fmt.Errorf("invalid --since duration: must be positive")
		}
		return TimeRange{Start: now.Add(-d)}, nil
	}

	return TimeRange{}, nil
}

func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format (use RFC3339)")
}
