// Package hoststats takes point-in-time resource snapshots of the traced
// process and its host, attached to stuck operation reports.
package hoststats

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/coral-trace/internal/safe"
)

// Stats is one resource snapshot. Fields that could not be read are zero.
type Stats struct {
	Time              time.Time `json:"time"`
	PID               int32     `json:"pid"`
	ProcessCPUPercent float64   `json:"process_cpu_percent"`
	RSSBytes          int64     `json:"rss_bytes"`
	Threads           int32     `json:"threads"`
	Goroutines        int       `json:"goroutines"`
	HostCPUPercent    float64   `json:"host_cpu_percent"`
	HostMemPercent    float64   `json:"host_mem_percent"`
}

// Collector reads Stats for the current process.
type Collector struct {
	logger zerolog.Logger
	proc   *process.Process
	now    func() time.Time
}

// New creates a collector for the current process.
func New(logger zerolog.Logger) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Collector{
		logger: logger.With().Str("component", "hoststats").Logger(),
		proc:   proc,
		now:    time.Now,
	}, nil
}

// Collect takes a snapshot. Individual readings that fail are logged at
// debug level and left zero, so Collect always returns a value.
func (c *Collector) Collect(ctx context.Context) Stats {
	s := Stats{
		Time:       c.now(),
		PID:        c.proc.Pid,
		Goroutines: runtime.NumGoroutine(),
	}

	if pct, err := c.proc.CPUPercentWithContext(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to read process CPU")
	} else {
		s.ProcessCPUPercent = pct
	}

	if mi, err := c.proc.MemoryInfoWithContext(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to read process memory")
	} else {
		s.RSSBytes, _ = safe.Uint64ToInt64(mi.RSS)
	}

	if n, err := c.proc.NumThreadsWithContext(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to read process threads")
	} else {
		s.Threads = n
	}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err != nil || len(pcts) == 0 {
		c.logger.Debug().Err(err).Msg("Failed to read host CPU")
	} else {
		s.HostCPUPercent = pcts[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to read host memory")
	} else {
		s.HostMemPercent = safe.Percent(vm.Used, vm.Total)
	}

	return s
}
