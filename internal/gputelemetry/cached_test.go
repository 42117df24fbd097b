package gputelemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEnumerator struct {
	devices []Device
	listed  int
}

func (e *countingEnumerator) Name() string { return "counting" }

func (e *countingEnumerator) Devices() []Device {
	e.listed++
	return e.devices
}

func TestSampleAllEnumeratesOnce(t *testing.T) {
	enum := &countingEnumerator{devices: devices("a", "b", "c")}
	agg := New(nil, enum, nil, nil)

	require.Len(t, agg.SampleAll(), 3)
	assert.Equal(t, 1, enum.listed)

	enum.listed = 0
	_, ok := agg.SampleOne(2)
	require.True(t, ok)
	assert.Equal(t, 1, enum.listed)
}

func TestCachedSharesOnePassWithinTTL(t *testing.T) {
	enum := &countingEnumerator{devices: devices("a", "b")}
	now := time.Unix(1000, 0)
	cached := NewCached(New(nil, enum, nil, nil), 250*time.Millisecond)
	cached.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		got, ok := cached.SampleOne(0)
		require.True(t, ok)
		assert.Equal(t, "a", got.Name)
	}
	require.Len(t, cached.SampleAll(), 2)
	assert.Equal(t, 1, enum.listed)

	_, ok := cached.SampleOne(7)
	assert.False(t, ok)

	now = now.Add(250 * time.Millisecond)
	enum.devices = devices("z")
	got, ok := cached.SampleOne(0)
	require.True(t, ok)
	assert.Equal(t, "z", got.Name)
	assert.Equal(t, 2, enum.listed)
}

func TestCachedWithoutTTLAlwaysRefreshes(t *testing.T) {
	enum := &countingEnumerator{devices: devices("a")}
	cached := NewCached(New(nil, enum, nil, nil), 0)

	cached.SampleAll()
	cached.SampleAll()
	assert.Equal(t, 2, enum.listed)
}

func TestCachedReturnsCopies(t *testing.T) {
	cached := NewCached(New(nil, &countingEnumerator{devices: devices("a")}, nil, nil), time.Hour)
	rows := cached.SampleAll()
	rows[0].Name = "mutated"
	assert.Equal(t, "a", cached.SampleAll()[0].Name)
}
