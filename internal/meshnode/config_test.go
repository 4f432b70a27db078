package meshnode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// TestConfig_NewConfig tests creating new configuration with defaults
func TestConfig_NewConfig(t *testing.T) {
	config := NewConfig("node-1", "mesh")

	assert.Equal(t, "node-1", config.Identity)
	assert.Equal(t, "mesh", config.DefaultDestination)
	assert.True(t, config.PreferLink)
	assert.Equal(t, 64*1024, config.ChunkSize)
	assert.Equal(t, int64(8<<20), config.MaxTransferSize)
	assert.Equal(t, store.DefaultRetentionPolicy(), config.Retention)
	assert.Equal(t, 10*time.Minute, config.SweepInterval)
	assert.Zero(t, config.DefaultTTL)
}

// TestConfig_Validate tests configuration validation
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		errorType error
	}{
		{name: "valid config", config: NewConfig("node-1", "mesh")},
		{name: "empty identity", config: NewConfig("", "mesh"), errorType: ErrEmptyIdentity},
		{name: "empty destination", config: NewConfig("node-1", ""), errorType: ErrEmptyDestination},
		{name: "negative ttl", config: NewConfig("node-1", "mesh").WithDefaultTTL(-time.Second)},
		{name: "negative retention", config: NewConfig("node-1", "mesh").WithRetention(store.RetentionPolicy{Jobs: -time.Hour})},
		{name: "backoff above max", config: &Config{
			Identity: "node-1", DefaultDestination: "mesh",
			InboundBackoff: time.Minute, InboundMaxBackoff: time.Second,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.name == "valid config" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.errorType != nil {
				assert.ErrorIs(t, err, tt.errorType)
			}
		})
	}
}

func TestConfig_Builders(t *testing.T) {
	config := NewConfig("node-1", "mesh").
		WithDefaultTTL(30 * time.Second).
		WithChunkSize(512).
		WithPreferLink(false)

	assert.Equal(t, 30*time.Second, config.DefaultTTL)
	assert.Equal(t, 512, config.ChunkSize)
	assert.False(t, config.PreferLink)

	assert.Equal(t, 30*time.Second, config.ttlFor(0))
	assert.Equal(t, time.Second, config.ttlFor(time.Second))
	assert.Equal(t, "mesh", config.destinationFor(""))
	assert.Equal(t, "peer", config.destinationFor("peer"))
}

func TestSplitChunks(t *testing.T) {
	chunks := splitChunks([]byte("hello world!"), 5)
	require.Len(t, chunks, 3)
	assert.Equal(t, "hello", string(chunks[0]))
	assert.Equal(t, " worl", string(chunks[1]))
	assert.Equal(t, "d!", string(chunks[2]))

	assert.Len(t, splitChunks([]byte("abcd"), 4), 1)
}

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("payload"))
	assert.Equal(t, a, Checksum([]byte("payload")))
	assert.NotEqual(t, a, Checksum([]byte("payload!")))
	assert.Len(t, a, len("blake3:")+64)
}
