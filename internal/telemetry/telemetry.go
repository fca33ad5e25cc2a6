// Package telemetry periodically reports host metrics to the control
// plane and emits an immutable host-facts record once at startup.
package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/datatorch/agent/internal/logger"
)

// DefaultPeriod is the sampler's default sampling interval.
const DefaultPeriod = 60 * time.Second

// HostFacts is the immutable record emitted once at startup.
type HostFacts struct {
	OS              string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	CPUModel        string
	CPUCores        int
	MemoryTotal     uint64
	GoVersion       string
	AgentVersion    string
}

// Sample is one periodic telemetry reading.
type Sample struct {
	SampledAt   time.Time
	CPUUsage    float64
	MemoryUsage float64
	DiskUsage   float64
	LoadAvg1    float64
	LoadAvg5    float64
	LoadAvg15   float64
}

// Reporter receives host facts and samples.
type Reporter interface {
	ReportHostFacts(ctx context.Context, facts HostFacts) error
	ReportSample(ctx context.Context, sample Sample) error
}

// Sampler periodically emits host telemetry.
type Sampler struct {
	reporter     Reporter
	period       time.Duration
	agentVersion string
	log          logger.Logger
}

// New builds a Sampler with the given period (DefaultPeriod if zero).
func New(reporter Reporter, period time.Duration, agentVersion string, log logger.Logger) *Sampler {
	if period <= 0 {
		period = DefaultPeriod
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &Sampler{reporter: reporter, period: period, agentVersion: agentVersion, log: log}
}

// Run emits host facts once, then samples on the configured period until
// ctx is canceled. Sampler errors are logged but never stop the agent.
func (s *Sampler) Run(ctx context.Context) {
	if facts, err := gatherHostFacts(s.agentVersion); err != nil {
		s.log.Warnf("telemetry: gather host facts: %v", err)
	} else if err := s.reporter.ReportHostFacts(ctx, facts); err != nil {
		s.log.Warnf("telemetry: report host facts: %v", err)
	}

	// Prime cpu.Percent: its first call over a zero interval reports
	// since-boot average, which is meaningless as a rate; discard it.
	_, _ = cpu.PercentWithContext(ctx, 0, false)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := s.gatherSample(ctx)
			if err != nil {
				s.log.Warnf("telemetry: gather sample: %v", err)
				continue
			}
			if err := s.reporter.ReportSample(ctx, sample); err != nil {
				s.log.Warnf("telemetry: report sample: %v", err)
			}
		}
	}
}

func gatherHostFacts(agentVersion string) (HostFacts, error) {
	info, err := host.Info()
	if err != nil {
		return HostFacts{}, err
	}
	cpuInfo, err := cpu.Info()
	if err != nil {
		return HostFacts{}, err
	}
	vmem, err := mem.VirtualMemory()
	if err != nil {
		return HostFacts{}, err
	}

	model := "unknown"
	if len(cpuInfo) > 0 {
		model = cpuInfo[0].ModelName
	}

	return HostFacts{
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		CPUModel:        model,
		CPUCores:        runtime.NumCPU(),
		MemoryTotal:     vmem.Total,
		GoVersion:       runtime.Version(),
		AgentVersion:    agentVersion,
	}, nil
}

func (s *Sampler) gatherSample(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, err
	}
	var cpuUsage float64
	if len(percents) > 0 {
		cpuUsage = percents[0]
	}

	vmem, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, err
	}

	diskUsage, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return Sample{}, err
	}

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		SampledAt:   time.Now().UTC(),
		CPUUsage:    cpuUsage,
		MemoryUsage: vmem.UsedPercent,
		DiskUsage:   diskUsage.UsedPercent,
		LoadAvg1:    avg.Load1,
		LoadAvg5:    avg.Load5,
		LoadAvg15:   avg.Load15,
	}, nil
}
