package model

import "time"

// PipelineStats is the operator-facing snapshot served by GET /v1/stats.
type PipelineStats struct {
	Uptime       time.Duration      `json:"uptime"`
	Strategy     string             `json:"strategy"`
	Tracked      bool               `json:"tracked"`
	Destinations []DestinationStats `json:"destinations"`
}

// DestinationStats describes one destination buffer.
type DestinationStats struct {
	Name        string `json:"name"`
	EndpointURL string `json:"endpoint_url"`
	BufferStats
}

// BufferStats is a point-in-time copy of a batch buffer's counters.
type BufferStats struct {
	Items        int    `json:"items"`
	Bytes        int    `json:"bytes"`
	MaxCount     int    `json:"max_count"`
	BytesLimit   int    `json:"bytes_limit"`
	Flushes      uint64 `json:"flushes"`
	FlushedItems uint64 `json:"flushed_items"`
	Oversized    uint64 `json:"oversized"`
	Dropped      uint64 `json:"dropped"`
}

// FlushReport is published on the bus after a non-empty flush.
type FlushReport struct {
	Destination string `json:"destination"`
	Items       int    `json:"items"`
	Bytes       int    `json:"bytes"`
}
