// Package health reports process self-stats for the health endpoint.
package health

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type Stats struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Goroutines    int     `json:"goroutines"`
	RSSBytes      uint64  `json:"rssBytes"`
	CPUPercent    float64 `json:"cpuPercent"`
}

type Collector struct {
	start time.Time
	proc  *process.Process
}

func NewCollector() *Collector {
	// A nil proc just zeroes the process stats; the endpoint stays up.
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		start: time.Now(),
		proc:  proc,
	}
}

func (c *Collector) Stats() Stats {
	s := Stats{
		Status:        "ok",
		UptimeSeconds: time.Since(c.start).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if c.proc != nil {
		if mi, err := c.proc.MemoryInfo(); err == nil && mi != nil {
			s.RSSBytes = mi.RSS
		}
		if cpu, err := c.proc.CPUPercent(); err == nil {
			s.CPUPercent = cpu
		}
	}
	return s
}
