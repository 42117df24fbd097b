package compute

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aiz-dev/hwtelemetry/internal/dynlib"
)

func TestBindError(t *testing.T) {
	err := fmt.Errorf("bind: %w", &dynlib.MissingSymbolError{Library: "libcuda.so.1", Symbol: "cuDeviceGet"})
	assert.EqualError(t, BindError("CUDA driver", err), "Missing CUDA driver symbol 'cuDeviceGet'")

	other := errors.New("boom")
	assert.Same(t, other, BindError("OpenCL", other))
}

func TestUnavailable(t *testing.T) {
	info := Unavailable("vulkan", errors.New("Vulkan runtime not found"))
	assert.False(t, info.Available)
	assert.Equal(t, "vulkan", info.API)
	assert.Equal(t, "Vulkan runtime not found", info.Reason)
}
