package meshnode

import (
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// TransferOperation names the operation carried by upload frames.
const TransferOperation = "file_transfer.upload"

var (
	// ErrEmptyIdentity is returned when the node identity is empty
	ErrEmptyIdentity = errors.New("node identity cannot be empty")
	// ErrEmptyDestination is returned when no default destination is configured
	ErrEmptyDestination = errors.New("default destination cannot be empty")
)

// Config represents configuration for a Node
type Config struct {
	// Identity is this node's identity hash, used as source_identity.
	Identity string

	// DefaultDestination is used when a request names no destination.
	DefaultDestination string

	// DefaultTTL applies to commands submitted without a TTL. Zero means
	// jobs never time out.
	DefaultTTL time.Duration

	// PreferLink is the initial link preference handed to the bridge.
	PreferLink bool

	// ChunkSize is the number of file bytes per transfer frame.
	ChunkSize int

	// MaxTransferSize caps the decoded size of an upload.
	MaxTransferSize int64

	// Retention is the initial retention policy. A zero field disables
	// sweeping of that group.
	Retention store.RetentionPolicy

	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration

	// InboundBackoff is the first delay before re-opening a failed inbound
	// stream. It doubles up to InboundMaxBackoff.
	InboundBackoff    time.Duration
	InboundMaxBackoff time.Duration
}

// NewConfig creates a new Node configuration with safe defaults
func NewConfig(identity, defaultDestination string) *Config {
	c := &Config{
		Identity:           identity,
		DefaultDestination: defaultDestination,
		PreferLink:         true,
		Retention:          store.DefaultRetentionPolicy(),
	}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 64 * 1024
	}
	if c.MaxTransferSize <= 0 {
		c.MaxTransferSize = 8 << 20 // 8MB
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	if c.InboundBackoff <= 0 {
		c.InboundBackoff = 250 * time.Millisecond
	}
	if c.InboundMaxBackoff <= 0 {
		c.InboundMaxBackoff = 10 * time.Second
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Identity == "" {
		return ErrEmptyIdentity
	}
	if c.DefaultDestination == "" {
		return ErrEmptyDestination
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("default TTL cannot be negative: %v", c.DefaultTTL)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size cannot be negative: %d", c.ChunkSize)
	}
	if c.MaxTransferSize < 0 {
		return fmt.Errorf("max transfer size cannot be negative: %d", c.MaxTransferSize)
	}
	if c.Retention.Jobs < 0 || c.Retention.Cache < 0 || c.Retention.Transfers < 0 {
		return errors.New("retention ages cannot be negative")
	}
	if c.InboundMaxBackoff > 0 && c.InboundBackoff > c.InboundMaxBackoff {
		return fmt.Errorf("inbound backoff (%v) cannot exceed max backoff (%v)", c.InboundBackoff, c.InboundMaxBackoff)
	}
	return nil
}

// WithDefaultTTL sets the TTL applied to commands submitted without one
func (c *Config) WithDefaultTTL(ttl time.Duration) *Config {
	c.DefaultTTL = ttl
	return c
}

// WithRetention sets the initial retention policy
func (c *Config) WithRetention(policy store.RetentionPolicy) *Config {
	c.Retention = policy
	return c
}

// WithChunkSize sets the transfer frame size
func (c *Config) WithChunkSize(size int) *Config {
	c.ChunkSize = size
	return c
}

// WithPreferLink sets the initial link preference
func (c *Config) WithPreferLink(prefer bool) *Config {
	c.PreferLink = prefer
	return c
}

// ttlFor returns the TTL for a request, falling back to the default.
func (c *Config) ttlFor(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return c.DefaultTTL
}

// destinationFor returns the destination for a request.
func (c *Config) destinationFor(requested string) string {
	if requested != "" {
		return requested
	}
	return c.DefaultDestination
}

// validTransport reports whether a requested transport is empty or known.
func validTransport(t envelope.TransportHint) bool {
	return t == "" || t.Valid()
}
