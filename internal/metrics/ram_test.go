package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiz-dev/hwtelemetry/internal/counters"
)

func TestRAMUsage(t *testing.T) {
	src := &fakeSource{mem: counters.Memory{TotalBytes: 16 * bytesPerGiB, AvailableBytes: 4 * bytesPerGiB}}

	info, ok := ReadRAM(src)
	require.True(t, ok)
	assert.InDelta(t, 12, info.UsedGiB, 1e-9)
	assert.InDelta(t, 16, info.TotalGiB, 1e-9)
	assert.InDelta(t, 75, info.UsedPct, 1e-9)

	s, ok := NewRAMUsage(src).Sample()
	require.True(t, ok)
	assert.Equal(t, Sample{Value: 75, Unit: "%", Label: "12.0/16.0 GiB"}, s)
}

func TestRAMUsageAvailableAboveTotal(t *testing.T) {
	src := &fakeSource{mem: counters.Memory{TotalBytes: bytesPerGiB, AvailableBytes: 2 * bytesPerGiB}}
	info, ok := ReadRAM(src)
	require.True(t, ok)
	assert.Equal(t, 0.0, info.UsedGiB)
}

func TestRAMUsageUnavailable(t *testing.T) {
	_, ok := NewRAMUsage(&fakeSource{failAll: true}).Sample()
	assert.False(t, ok)

	_, ok = ReadRAM(&fakeSource{})
	assert.False(t, ok)
}
