package meshbridge

import (
	"errors"
	"time"

	"google.golang.org/grpc"
)

// Config holds configuration for the daemon bridge.
type Config struct {
	// Endpoint is the gRPC target of the mesh daemon, e.g. "unix:///run/mesh.sock"
	// or "127.0.0.1:4243".
	Endpoint string

	// PreferLink sends over the direct link when it is reachable. When false
	// every envelope goes over propagation.
	PreferLink bool

	LinkProbeInterval time.Duration
	LinkProbeTimeout  time.Duration
	CallTimeout       time.Duration
	MaxMessageSize    int
	InboundBuffer     int

	// DialOptions are appended to the bridge's own options. Tests use this
	// to dial an in-memory listener.
	DialOptions []grpc.DialOption
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("mesh endpoint cannot be empty")
	}
	if c.LinkProbeInterval < 0 || c.LinkProbeTimeout < 0 {
		return errors.New("link probe durations cannot be negative")
	}
	if c.LinkProbeTimeout > 0 && c.LinkProbeInterval > 0 && c.LinkProbeTimeout > c.LinkProbeInterval {
		return errors.New("link probe timeout must not exceed the probe interval")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.LinkProbeInterval <= 0 {
		c.LinkProbeInterval = 5 * time.Second
	}
	if c.LinkProbeTimeout <= 0 {
		c.LinkProbeTimeout = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 * 1024 * 1024 // 4MB
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 256
	}
}
