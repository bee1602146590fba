// Package device_test tests device resolution policy.
package device_test

import (
	"context"
	"errors"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/device"
)

var errNoGPU = errors.New("nvidia-smi not found")

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "device-test.log")
	require.NoError(t, err)

	return testLogger
}

func TestResolvePrefersGPUWithEnoughMemory(t *testing.T) {
	t.Parallel()

	resolver := device.NewWithProbe(4096, func(_ context.Context) (int64, error) {
		return 8192, nil
	}, newTestLogger(t))

	resolved := resolver.Resolve(context.Background())

	assert.Equal(t, core.DeviceGPU, resolved.Kind)
	assert.Equal(t, int64(8192), resolved.FreeMemory)
}

func TestResolveFallsBackToCPUBelowThreshold(t *testing.T) {
	t.Parallel()

	resolver := device.NewWithProbe(4096, func(_ context.Context) (int64, error) {
		return 1024, nil
	}, newTestLogger(t))

	resolved := resolver.Resolve(context.Background())

	assert.Equal(t, core.DeviceCPU, resolved.Kind)
}

func TestResolveTreatsProbeFailureAsNoGPU(t *testing.T) {
	t.Parallel()

	resolver := device.NewWithProbe(4096, func(_ context.Context) (int64, error) {
		return 0, errNoGPU
	}, newTestLogger(t))

	resolved := resolver.Resolve(context.Background())

	assert.Equal(t, core.DeviceCPU, resolved.Kind)
	assert.Zero(t, resolved.FreeMemory)
}

func TestResolveProbesPerCall(t *testing.T) {
	t.Parallel()

	calls := 0

	resolver := device.NewWithProbe(4096, func(_ context.Context) (int64, error) {
		calls++
		if calls == 1 {
			return 8192, nil
		}

		return 0, errNoGPU
	}, newTestLogger(t))

	first := resolver.Resolve(context.Background())
	second := resolver.Resolve(context.Background())

	assert.Equal(t, core.DeviceGPU, first.Kind)
	assert.Equal(t, core.DeviceCPU, second.Kind, "resolution is never cached across jobs")
	assert.Equal(t, 2, calls)
}
