package server

import (
	"time"

	"go.relite.dev/core/protocol"
)

// Options tune the connection and session layers.
type Options struct {
	// HeartbeatTimeout aborts a connection when no bytes arrive from the
	// client for this long. Clients are expected to issue Heartbeat
	// requests well within it.
	HeartbeatTimeout time.Duration
	// MaxBodyWords caps the declared body length of a request frame, in
	// 8-byte words. A header declaring more is a protocol error.
	MaxBodyWords uint32
}

// DefaultOptions returns production defaults.
func DefaultOptions() *Options {
	return &Options{
		HeartbeatTimeout: 15 * time.Second,
		MaxBodyWords:     protocol.MaxWords,
	}
}
