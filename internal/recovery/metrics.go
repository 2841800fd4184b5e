package recovery

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/agentgate/gateway/internal/health"
)

// SampleMetrics reads the process's resource conditions for strategy
// matching (memory_usage_percent, cpu_usage_percent,
// uptime), paired with the supplied health status and restart count
// (both of which are process-local state, not OS-level).
func SampleMetrics(healthStatus health.Status, restartCount int, processStart time.Time) Metrics {
	m := Metrics{
		HealthStatus: healthStatus,
		RestartCount: restartCount,
		Uptime:       time.Since(processStart),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsagePercent = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		m.CPUUsagePercent = percents[0]
	}
	if uptimeSecs, err := host.Uptime(); err == nil {
		_ = uptimeSecs // host uptime is the machine's, not the process's; Uptime above is authoritative
	}
	return m
}
