package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/retasync-go/internal/acl"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "local-node", cfg.Node.Identity)
	assert.Equal(t, MeshModeDaemon, cfg.Mesh.Mode)
	assert.True(t, cfg.Mesh.PreferLink)
	assert.Equal(t, 5*time.Second, cfg.Mesh.LinkProbeInterval)
	assert.Equal(t, "127.0.0.1:8787", cfg.HTTP.Bind)
	assert.Equal(t, acl.ModeDisabled, cfg.ACL.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Jobs)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Cache)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.Transfers)
	assert.Equal(t, 500, cfg.Logging.BufferSize)
	assert.False(t, cfg.AuthEnabled())
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeConfig(t, "node.toml", `
[node]
identity = "a1b2c3"

[mesh]
mode = "loopback"
prefer_link = false
link_probe_interval = "2s"

[http]
bind = "0.0.0.0:9000"
auth_token = "s3cret"

[acl]
mode = "denylist"

[retention]
jobs = "1h"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "a1b2c3", cfg.Node.Identity)
	assert.Equal(t, MeshModeLoopback, cfg.Mesh.Mode)
	assert.False(t, cfg.Mesh.PreferLink)
	assert.Equal(t, 2*time.Second, cfg.Mesh.LinkProbeInterval)
	assert.Equal(t, acl.ModeDenylist, cfg.ACL.Mode)
	assert.Equal(t, time.Hour, cfg.Retention.Jobs)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Cache)
	assert.True(t, cfg.AuthEnabled())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, "node.yaml", "node:\n  identity: yaml-node\nmesh:\n  mode: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "yaml-node", cfg.Node.Identity)
	assert.Equal(t, MeshModeMemory, cfg.Mesh.Mode)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RETASYNC_ACL_MODE", "allowlist")
	t.Setenv("RETASYNC_MESH_PREFER_LINK", "false")
	t.Setenv("RETASYNC_RETENTION_CACHE", "30m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, acl.ModeAllowlist, cfg.ACL.Mode)
	assert.False(t, cfg.Mesh.PreferLink)
	assert.Equal(t, 30*time.Minute, cfg.Retention.Cache)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown acl mode", "[acl]\nmode = \"permissive\"\n"},
		{"non-loopback bind without token", "[http]\nbind = \"0.0.0.0:8787\"\n"},
		{"unknown mesh mode", "[mesh]\nmode = \"carrier-pigeon\"\n"},
		{"probe timeout above interval", "[mesh]\nlink_probe_interval = \"1s\"\nlink_probe_timeout = \"2s\"\n"},
		{"bad duration", "[retention]\njobs = \"forever\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "node.toml", tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err, "an explicit path must exist")
}

func TestIsLoopbackBind(t *testing.T) {
	for bind, want := range map[string]bool{
		"127.0.0.1:8787": true,
		"localhost:80":   true,
		"[::1]:8787":     true,
		"0.0.0.0:8787":   false,
		"10.0.0.5:8787":  false,
		"example.org:80": false,
	} {
		got, err := IsLoopbackBind(bind)
		require.NoError(t, err, bind)
		assert.Equal(t, want, got, bind)
	}

	_, err := IsLoopbackBind("no-port")
	assert.Error(t, err)
}

func TestApplyDynamicPatch(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.Retention.Jobs = 24 * time.Hour

	mode := "denylist"
	prefer := false
	jobs := "2h"
	updated, err := cfg.Apply(DynamicPatch{
		ACLMode:    &mode,
		PreferLink: &prefer,
		Retention:  &DynamicRetentionPatch{Jobs: &jobs},
	})
	require.NoError(t, err)

	assert.Equal(t, acl.ModeDenylist, updated.ACL.Mode)
	assert.False(t, updated.Mesh.PreferLink)
	assert.Equal(t, 2*time.Hour, updated.Retention.Jobs)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Jobs, "receiver is not modified")

	bad := "sometimes"
	_, err = cfg.Apply(DynamicPatch{ACLMode: &bad})
	assert.Error(t, err)

	negative := "-1h"
	_, err = cfg.Apply(DynamicPatch{Retention: &DynamicRetentionPatch{Cache: &negative}})
	assert.Error(t, err)
}

func TestDynamicRevisionRoundTrip(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.Mesh.PreferLink = true
	cfg.Retention.Transfers = 168 * time.Hour

	raw, err := cfg.Dynamic().MarshalRevision()
	require.NoError(t, err)

	restored, err := ParseRevision(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg.Dynamic(), restored)

	var fresh Config
	fresh.SetDefaults()
	applied, err := fresh.Apply(restored.Patch())
	require.NoError(t, err)
	assert.Equal(t, 168*time.Hour, applied.Retention.Transfers)
	assert.True(t, applied.Mesh.PreferLink)

	_, err = ParseRevision(`{"acl_mode":"chaos"}`)
	assert.Error(t, err)
}

func TestDynamic_ApplyAndRetentionPolicy(t *testing.T) {
	d := Dynamic{
		ACLMode:   acl.ModeDisabled,
		Retention: DynamicRetention{Jobs: "24h", Cache: "24h", Transfers: "168h"},
	}

	cache := "1h"
	prefer := true
	updated, err := d.Apply(DynamicPatch{PreferLink: &prefer, Retention: &DynamicRetentionPatch{Cache: &cache}})
	require.NoError(t, err)
	assert.True(t, updated.PreferLink)
	assert.Equal(t, "1h", updated.Retention.Cache)
	assert.Equal(t, "24h", d.Retention.Cache)

	policy, err := updated.RetentionPolicy()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, policy.Cache)
	assert.Equal(t, 168*time.Hour, policy.Transfers)

	junk := "forever"
	_, err = d.Apply(DynamicPatch{Retention: &DynamicRetentionPatch{Jobs: &junk}})
	assert.Error(t, err)
}
