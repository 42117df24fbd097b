// Package api defines the WebSocket wire messages.
package api

import (
	"github.com/aiz-dev/hwtelemetry/internal/sampler"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string          `json:"type"`
	IntervalMS int             `json:"interval_ms"`
	GPUCount   int             `json:"gpu_count"`
	Collectors []string        `json:"collectors"`
	Features   map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS, gpuCount int, collectors []string, features map[string]bool) HelloMessage {
	if collectors == nil {
		collectors = []string{}
	}
	return HelloMessage{
		Type:       "hello",
		IntervalMS: intervalMS,
		GPUCount:   gpuCount,
		Collectors: collectors,
		Features:   features,
	}
}

// SnapshotMessage wraps one sampler tick for transport.
type SnapshotMessage struct {
	Type string `json:"type"`
	sampler.Snapshot
}

// NewSnapshotMessage constructs a snapshot payload.
func NewSnapshotMessage(snap sampler.Snapshot) SnapshotMessage {
	return SnapshotMessage{
		Type:     "snapshot",
		Snapshot: snap,
	}
}

// TimelinesMessage answers a timelines request.
type TimelinesMessage struct {
	Type   string           `json:"type"`
	Series []sampler.Series `json:"series"`
}

// NewTimelinesMessage constructs a timelines payload.
func NewTimelinesMessage(series []sampler.Series) TimelinesMessage {
	return TimelinesMessage{
		Type:   "timelines",
		Series: series,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
