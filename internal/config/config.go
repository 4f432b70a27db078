// Package config loads the node configuration from a TOML or YAML file and
// RETASYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/retasync-go/internal/acl"
	"github.com/rmacdonaldsmith/retasync-go/internal/logging"
)

// Mesh bridge modes.
const (
	MeshModeDaemon   = "daemon"
	MeshModeLoopback = "loopback"
	MeshModeMemory   = "memory"
)

// Config is the full node configuration.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Mesh      MeshConfig      `mapstructure:"mesh"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Storage   StorageConfig   `mapstructure:"storage"`
	ACL       ACLConfig       `mapstructure:"acl"`
	Retention RetentionConfig `mapstructure:"retention"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Logging   logging.Config  `mapstructure:"logging"`
	Contract  ContractConfig  `mapstructure:"contract"`
}

type NodeConfig struct {
	// Identity is this node's identity hash, used as source_identity.
	Identity string `mapstructure:"identity"`
	// DefaultDestination is used when a request names no destination.
	DefaultDestination string        `mapstructure:"default_destination"`
	DefaultTTL         time.Duration `mapstructure:"default_ttl"`
}

type MeshConfig struct {
	Mode              string        `mapstructure:"mode"`
	Endpoint          string        `mapstructure:"endpoint"`
	PreferLink        bool          `mapstructure:"prefer_link"`
	LinkProbeInterval time.Duration `mapstructure:"link_probe_interval"`
	LinkProbeTimeout  time.Duration `mapstructure:"link_probe_timeout"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
}

type HTTPConfig struct {
	Bind            string        `mapstructure:"bind"`
	AuthToken       string        `mapstructure:"auth_token"`
	SubmitRate      float64       `mapstructure:"submit_rate"`
	SubmitBurst     int           `mapstructure:"submit_burst"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type ACLConfig struct {
	Mode acl.Mode `mapstructure:"mode"`
}

type RetentionConfig struct {
	Jobs          time.Duration `mapstructure:"jobs"`
	Cache         time.Duration `mapstructure:"cache"`
	Transfers     time.Duration `mapstructure:"transfers"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type TransferConfig struct {
	ChunkSize int   `mapstructure:"chunk_size"`
	MaxSize   int64 `mapstructure:"max_size"`
}

type StreamConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
}

type ContractConfig struct {
	// Path overrides the built-in AsyncAPI document.
	Path string `mapstructure:"path"`
}

// SetDefaults fills zero values that have no viper default, e.g. when a
// Config is built in code.
func (c *Config) SetDefaults() {
	if c.Node.Identity == "" {
		c.Node.Identity = "local-node"
	}
	if c.Node.DefaultDestination == "" {
		c.Node.DefaultDestination = "mesh"
	}
	if c.Mesh.Mode == "" {
		c.Mesh.Mode = MeshModeDaemon
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "127.0.0.1:8787"
	}
	if c.HTTP.SubmitRate <= 0 {
		c.HTTP.SubmitRate = 50
	}
	if c.HTTP.SubmitBurst <= 0 {
		c.HTTP.SubmitBurst = 100
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 16 << 20 // 16MB
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 30 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/retasync.db"
	}
	if c.ACL.Mode == "" {
		c.ACL.Mode = acl.ModeDisabled
	}
	if c.Retention.SweepInterval <= 0 {
		c.Retention.SweepInterval = 10 * time.Minute
	}
	if c.Transfer.ChunkSize <= 0 {
		c.Transfer.ChunkSize = 64 * 1024
	}
	if c.Transfer.MaxSize <= 0 {
		c.Transfer.MaxSize = 8 << 20 // 8MB
	}
	if c.Stream.BufferSize <= 0 {
		c.Stream.BufferSize = 256
	}
	if c.Stream.KeepaliveInterval <= 0 {
		c.Stream.KeepaliveInterval = 15 * time.Second
	}
	c.Logging.SetDefaults()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Node.Identity) == "" {
		errs = append(errs, errors.New("node.identity cannot be empty"))
	}

	switch c.Mesh.Mode {
	case MeshModeDaemon:
		if c.Mesh.Endpoint == "" {
			errs = append(errs, errors.New("mesh.endpoint is required in daemon mode"))
		}
	case MeshModeLoopback, MeshModeMemory:
	default:
		errs = append(errs, fmt.Errorf("mesh.mode must be daemon, loopback or memory, got %q", c.Mesh.Mode))
	}
	if c.Mesh.LinkProbeTimeout > 0 && c.Mesh.LinkProbeInterval > 0 && c.Mesh.LinkProbeTimeout > c.Mesh.LinkProbeInterval {
		errs = append(errs, errors.New("mesh.link_probe_timeout must not exceed mesh.link_probe_interval"))
	}

	if _, err := acl.ParseMode(string(c.ACL.Mode)); err != nil {
		errs = append(errs, fmt.Errorf("acl.mode: %w", err))
	}

	loopback, err := IsLoopbackBind(c.HTTP.Bind)
	if err != nil {
		errs = append(errs, fmt.Errorf("http.bind: %w", err))
	} else if !loopback && c.HTTP.AuthToken == "" {
		errs = append(errs, fmt.Errorf("non-loopback bind %s requires http.auth_token", c.HTTP.Bind))
	}

	if c.Retention.Jobs < 0 || c.Retention.Cache < 0 || c.Retention.Transfers < 0 {
		errs = append(errs, errors.New("retention durations cannot be negative"))
	}
	if c.Node.DefaultTTL < 0 {
		errs = append(errs, errors.New("node.default_ttl cannot be negative"))
	}
	if int64(c.Transfer.ChunkSize) > c.Transfer.MaxSize {
		errs = append(errs, errors.New("transfer.chunk_size cannot exceed transfer.max_size"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// AuthEnabled reports whether requests must carry a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.HTTP.AuthToken != ""
}

// IsLoopbackBind reports whether bind ("host:port") listens only on loopback.
func IsLoopbackBind(bind string) (bool, error) {
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return false, err
	}
	if host == "localhost" {
		return true, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false, nil
	}
	return ip.IsLoopback(), nil
}
