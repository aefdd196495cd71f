package observability

import (
	"context"
	"fmt"
	"time"

	"kiln_control/internal/logger"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sys/unix"
)

// HostStats is a health sample of the controller host.
type HostStats struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	DiskFreeBytes     uint64  `json:"disk_free_bytes"`
	DiskTotalBytes    uint64  `json:"disk_total_bytes"`
}

// DiskUsage reports the size of the filesystem holding path.
func DiskUsage(path string) (total, free uint64, err error) {
	var stat unix.Statfs_t
	if err = unix.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	total = stat.Blocks * uint64(stat.Bsize)
	free = stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

// HostSampler samples CPU, memory and the free space of dataDir.
type HostSampler struct {
	dataDir string
	log     *logger.Logger
}

func NewHostSampler(dataDir string, log *logger.Logger) *HostSampler {
	if dataDir == "" {
		dataDir = "."
	}
	return &HostSampler{dataDir: dataDir, log: logger.OrNop(log)}
}

func (h *HostSampler) Sample(ctx context.Context) (HostStats, error) {
	var st HostStats
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		st.CPUPercent = pct[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return st, fmt.Errorf("memory: %w", err)
	}
	st.MemoryUsedPercent = vm.UsedPercent

	st.DiskTotalBytes, st.DiskFreeBytes, err = DiskUsage(h.dataDir)
	if err != nil {
		return st, err
	}
	return st, nil
}

// Run samples every interval into c until ctx ends.
func (h *HostSampler) Run(ctx context.Context, interval time.Duration, c *KilnCollector) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := h.Sample(ctx)
		if err != nil {
			h.log.Warnw("host_sample_failed", "err", err)
		} else {
			c.ObserveHost(st)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
