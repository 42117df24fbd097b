//go:build !windows

package igcl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsupportedPlatform(t *testing.T) {
	c := Default()
	require.ErrorIs(t, c.Available(), ErrUnsupported)
	assert.Empty(t, c.Library())

	_, ok := c.Telemetry(Adapter{VendorID: intelVendorID})
	assert.False(t, ok)
}
