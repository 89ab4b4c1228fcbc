// Package health periodically samples host resource usage and reports it as
// metrics. It never gates Client.Start or Client.Publish: the core's
// Non-goals explicitly exclude backpressure beyond the bounded subscriber
// queue, so this package is observability only.
package health

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/alexforster/goami/internal/metrics"
)

// Sampler periodically reports process CPU usage and detected container
// memory headroom.
type Sampler struct {
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	proc     *process.Process
	limit    int64
}

// NewSampler constructs a Sampler for the current process.
func NewSampler(interval time.Duration, m *metrics.Metrics, logger zerolog.Logger) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{
		interval: interval,
		metrics:  m,
		logger:   logger,
		proc:     proc,
		limit:    memoryLimit(),
	}, nil
}

// Run samples on interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	s.metrics.HostMemoryLimit.Set(float64(s.limit))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	cpuPercent, err := s.proc.CPUPercent()
	if err != nil {
		s.logger.Warn().Err(err).Msg("health: failed to sample CPU percent")
	} else {
		s.metrics.HostCPUPercent.Set(cpuPercent)
	}

	memInfo, err := s.proc.MemoryInfo()
	if err != nil {
		s.logger.Warn().Err(err).Msg("health: failed to sample memory info")
		return
	}
	if s.limit > 0 {
		s.metrics.HostMemoryHeadroom.Set(float64(s.limit) - float64(memInfo.RSS))
	}
}
