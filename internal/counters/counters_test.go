package counters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUTimesFoldsIowaitIntoIdle(t *testing.T) {
	got := cpuTimes(4, 1, 3, 10, 2, 0.1, 0.2, 0.3)
	assert.Equal(t, uint64(1200), got.Idle)
	assert.Equal(t, uint64(2060), got.Total)
}

func TestTicksRoundsAndClamps(t *testing.T) {
	assert.Equal(t, uint64(0), ticks(-1))
	assert.Equal(t, uint64(1), ticks(0.005))
	assert.Equal(t, uint64(250), ticks(2.5))
}

func TestJoinCmdline(t *testing.T) {
	assert.Equal(t, "a b", joinCmdline([]string{"a", "b", ""}))
	assert.Equal(t, "", joinCmdline(nil))
}
