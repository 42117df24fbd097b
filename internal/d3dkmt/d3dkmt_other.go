//go:build !windows

package d3dkmt

// Client is a D3DKMT query handle. Every call fails off Windows.
type Client struct{}

var defaultClient = &Client{}

// Default returns the process-wide client.
func Default() *Client {
	return defaultClient
}

// Available always returns ErrUnsupported.
func (c *Client) Available() error {
	return ErrUnsupported
}

// Adapters always returns ErrUnsupported.
func (c *Client) Adapters() ([]Adapter, error) {
	return nil, ErrUnsupported
}

// VideoMemory is never available.
func (c *Client) VideoMemory(LUID) (VideoMemory, bool) {
	return VideoMemory{}, false
}

// PerfData is never available.
func (c *Client) PerfData(LUID) (PerfData, bool) {
	return PerfData{}, false
}
