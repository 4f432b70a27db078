package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RETASYNC_HTTP_BIND.
const EnvPrefix = "RETASYNC"

// DefaultPath is read when no --config flag is given. Its absence is not an error.
const DefaultPath = "node.toml"

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.identity", "local-node")
	v.SetDefault("node.default_destination", "mesh")
	v.SetDefault("node.default_ttl", "0s")

	v.SetDefault("mesh.mode", MeshModeDaemon)
	v.SetDefault("mesh.endpoint", "127.0.0.1:4243")
	v.SetDefault("mesh.prefer_link", true)
	v.SetDefault("mesh.link_probe_interval", "5s")
	v.SetDefault("mesh.link_probe_timeout", "1s")
	v.SetDefault("mesh.call_timeout", "10s")

	v.SetDefault("http.bind", "127.0.0.1:8787")
	v.SetDefault("http.auth_token", "")
	v.SetDefault("http.submit_rate", 50)
	v.SetDefault("http.submit_burst", 100)
	v.SetDefault("http.max_body_bytes", 16<<20)
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("storage.path", "data/retasync.db")
	v.SetDefault("storage.busy_timeout", "5s")

	v.SetDefault("acl.mode", "disabled")

	v.SetDefault("retention.jobs", "24h")
	v.SetDefault("retention.cache", "24h")
	v.SetDefault("retention.transfers", "168h")
	v.SetDefault("retention.sweep_interval", "10m")

	v.SetDefault("transfer.chunk_size", 64*1024)
	v.SetDefault("transfer.max_size", 8<<20)

	v.SetDefault("stream.buffer_size", 256)
	v.SetDefault("stream.keepalive_interval", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.buffer_size", 500)

	v.SetDefault("contract.path", "")
}

// Load reads path (TOML or YAML by extension) and applies environment
// overrides. An empty path tries DefaultPath and tolerates its absence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
