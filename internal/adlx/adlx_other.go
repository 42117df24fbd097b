//go:build !windows

package adlx

// Client is an ADLX query handle. Every call fails off Windows.
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

// Library is always empty.
func (c *Client) Library() string {
	return ""
}

// Telemetry is never available.
func (c *Client) Telemetry(Adapter) (Telemetry, bool) {
	return Telemetry{}, false
}
