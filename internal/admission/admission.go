// Package admission implements ButterflyDB's admission control: before
// serving a task, sample the process's CPU% and RAM (MB), and refuse the
// task if either exceeds its configured threshold.
//
// Implemented on the standard library alone: runtime.ReadMemStats for the
// RAM figure, and a /proc/self/stat jiffies delta for CPU%, sampled twice
// across a short warm-up window. See DESIGN.md for the full justification.
package admission

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Thresholds are the resource-section limits a Controller enforces.
type Thresholds struct {
	MaxCPUPercent float32
	MaxRAMUsageMB float64
}

// Controller samples process resource usage and admits or refuses tasks.
type Controller struct {
	thresholds Thresholds
	warmup     time.Duration
}

// New builds a Controller enforcing thresholds, pausing warmup between its
// two CPU samples (defaults to 200ms).
func New(thresholds Thresholds) *Controller {
	return &Controller{thresholds: thresholds, warmup: 200 * time.Millisecond}
}

// Sample is one CPU%/RAM(MB) reading.
type Sample struct {
	CPUPercent float64
	RAMUsageMB float64
}

// Admit samples current resource usage and returns an error describing
// which threshold was exceeded, or nil if the task may proceed.
func (c *Controller) Admit() error {
	s, err := c.sample()
	if err != nil {
		// A sampling failure (e.g. /proc unavailable on this platform) does
		// not itself deny service; admission degrades to "always allow"
		// rather than wedging every request behind a broken sampler.
		return nil
	}
	if float32(s.CPUPercent) > c.thresholds.MaxCPUPercent {
		return fmt.Errorf("admission: cpu usage %.1f%% exceeds limit %.1f%%", s.CPUPercent, c.thresholds.MaxCPUPercent)
	}
	if s.RAMUsageMB > c.thresholds.MaxRAMUsageMB {
		return fmt.Errorf("admission: ram usage %.1fMB exceeds limit %.1fMB", s.RAMUsageMB, c.thresholds.MaxRAMUsageMB)
	}
	return nil
}

func (c *Controller) sample() (Sample, error) {
	ram := ramUsageMB()

	u0, s0, err := cpuJiffies()
	if err != nil {
		return Sample{RAMUsageMB: ram}, err
	}
	t0 := time.Now()
	time.Sleep(c.warmup)
	u1, s1, err := cpuJiffies()
	if err != nil {
		return Sample{RAMUsageMB: ram}, err
	}
	elapsed := time.Since(t0).Seconds()

	const clockTicksPerSec = 100.0 // USER_HZ on Linux; see proc(5).
	busy := float64((u1-u0)+(s1-s0)) / clockTicksPerSec
	cpuPercent := 0.0
	if elapsed > 0 {
		cpuPercent = (busy / elapsed) * 100.0 / float64(runtime.NumCPU())
	}
	return Sample{CPUPercent: cpuPercent, RAMUsageMB: ram}, nil
}

// ramUsageMB reports the process's current heap+sys footprint in MB via
// runtime.MemStats, standing in for an OS-level RSS reading.
func ramUsageMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Sys) / (1024 * 1024)
}

// cpuJiffies reads this process's utime and stime (fields 14 and 15 of
// /proc/self/stat) in clock ticks.
func cpuJiffies() (utime, stime int64, err error) {
	buf, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, 0, fmt.Errorf("admission: read /proc/self/stat: %w", err)
	}
	// Field 2 (comm) is parenthesized and may itself contain spaces, so
	// split on the closing paren before tokenizing the remaining fields.
	line := string(buf)
	parenEnd := strings.LastIndexByte(line, ')')
	if parenEnd < 0 {
		return 0, 0, fmt.Errorf("admission: malformed /proc/self/stat")
	}
	fields := strings.Fields(line[parenEnd+1:])
	// After the comm field, index 0 is field 3 (state); utime is field 14,
	// i.e. fields[11], stime is field 15, i.e. fields[12].
	if len(fields) < 13 {
		return 0, 0, fmt.Errorf("admission: short /proc/self/stat")
	}
	utime, err = strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("admission: parse utime: %w", err)
	}
	stime, err = strconv.ParseInt(fields[12], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("admission: parse stime: %w", err)
	}
	return utime, stime, nil
}
