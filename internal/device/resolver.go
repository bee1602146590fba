// Package device resolves the execution target for a synthesis job.
package device

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/voice-clone-service/internal/core"
)

const probeTimeout = 5 * time.Second

// ProbeFunc reports the free GPU memory in MiB. It returns an error when no
// usable GPU is present; that is a normal outcome, not a failure.
type ProbeFunc func(ctx context.Context) (int64, error)

// Resolver chooses GPU or CPU for one job. Resolution happens at synthesis
// start, per job, and is never cached: hardware availability can change
// between jobs.
type Resolver struct {
	minFreeMB int64
	probe     ProbeFunc
	log       *logger.Logger
}

// New creates a Resolver that probes via nvidia-smi.
func New(minFreeMB int64, log *logger.Logger) *Resolver {
	return &Resolver{
		minFreeMB: minFreeMB,
		probe:     probeNvidiaSMI,
		log:       log,
	}
}

// NewWithProbe creates a Resolver with a custom probe, for tests.
func NewWithProbe(minFreeMB int64, probe ProbeFunc, log *logger.Logger) *Resolver {
	return &Resolver{
		minFreeMB: minFreeMB,
		probe:     probe,
		log:       log,
	}
}

// Resolve picks the execution device. It prefers the GPU when one is present
// and its free memory clears the configured threshold, and falls back to CPU
// otherwise. Resolve never fails.
func (r *Resolver) Resolve(ctx context.Context) core.DeviceContext {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	freeMB, err := r.probe(probeCtx)
	if err != nil {
		r.log.Info("No usable GPU detected, selecting CPU: %v", err)

		return core.DeviceContext{Kind: core.DeviceCPU, FreeMemory: 0}
	}

	if freeMB < r.minFreeMB {
		r.log.Info(
			"GPU free memory %d MiB below threshold %d MiB, selecting CPU",
			freeMB,
			r.minFreeMB,
		)

		return core.DeviceContext{Kind: core.DeviceCPU, FreeMemory: 0}
	}

	return core.DeviceContext{Kind: core.DeviceGPU, FreeMemory: freeMB}
}

// probeNvidiaSMI queries the free memory of the first GPU.
func probeNvidiaSMI(ctx context.Context) (int64, error) {
	cmd := exec.CommandContext(
		ctx,
		"nvidia-smi",
		"--query-gpu=memory.free",
		"--format=csv,noheader,nounits",
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("nvidia-smi query failed: %w", err)
	}

	line := strings.TrimSpace(strings.SplitN(string(output), "\n", 2)[0])

	freeMB, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected nvidia-smi output %q: %w", line, err)
	}

	return freeMB, nil
}
