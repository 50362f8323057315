// File: channel/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/transport"
)

// Config holds per-channel settings. Accepted channels inherit the
// listening channel's configuration.
type Config struct {
	// ReadBufferSize is the size of one socket read.
	ReadBufferSize int
	// MaxReadsPerEvent caps socket reads per readiness notification so one
	// busy connection cannot monopolize its loop.
	MaxReadsPerEvent int
	// Listen configures listening sockets.
	Listen transport.ListenConfig
	// Metrics receives channel counters; nil selects control.Default().
	Metrics *control.Metrics
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:   16 * 1024,
		MaxReadsPerEvent: 16,
		Listen:           transport.DefaultListenConfig(),
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.MaxReadsPerEvent <= 0 {
		c.MaxReadsPerEvent = def.MaxReadsPerEvent
	}
	if c.Metrics == nil {
		c.Metrics = control.Default()
	}
	return c
}
