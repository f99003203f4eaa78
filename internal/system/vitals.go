// Package system reports local resource usage for the status command,
// with an eye on the disk that receives downloaded artifacts.
package system

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Vitals is a snapshot of local resource usage.
type Vitals struct {
	CPUPercent float64
	MemPercent float64

	// Usage of the filesystem holding the artifact output directory.
	OutputDiskPercent float64
	OutputDiskFree    uint64
}

// GetVitals samples CPU and memory, and measures the filesystem that
// outputDir lives on. When outputDir does not exist yet, the working
// directory's filesystem is measured instead.
func GetVitals(outputDir string) (*Vitals, error) {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}

	cpuUsage := 0.0
	if len(cpuPercent) > 0 {
		cpuUsage = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}

	diskPath := outputDir
	if _, err := os.Stat(diskPath); err != nil {
		diskPath = "."
	}
	diskStat, err := disk.Usage(diskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk usage for %s: %w", diskPath, err)
	}

	return &Vitals{
		CPUPercent:        cpuUsage,
		MemPercent:        memStat.UsedPercent,
		OutputDiskPercent: diskStat.UsedPercent,
		OutputDiskFree:    diskStat.Free,
	}, nil
}

// FreeHuman renders the free space of the output disk in binary units.
func (v *Vitals) FreeHuman() string {
	const unit = 1024
	free := v.OutputDiskFree
	if free < unit {
		return fmt.Sprintf("%d B", free)
	}
	div, exp := uint64(unit), 0
	for n := free / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(free)/float64(div), "KMGTPE"[exp])
}
