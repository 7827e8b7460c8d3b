package system

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a snapshot of the running process, reported by the health
// endpoint and logged between training epochs.
type Stats struct {
	RSSBytes      uint64  `json:"rss_bytes"`
	CPUPercent    float64 `json:"cpu_percent"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Collect gathers process stats. Failures to read individual values leave
// them zero; a health check should not fail because /proc was unreadable.
func Collect(start time.Time) Stats {
	s := Stats{UptimeSeconds: time.Since(start).Seconds()}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return s
	}
	if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
		s.RSSBytes = mi.RSS
	}
	if pct, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = pct
	}
	return s
}
