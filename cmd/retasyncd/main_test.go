package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rmacdonaldsmith/retasync-go/internal/config"
	"github.com/rmacdonaldsmith/retasync-go/internal/httpapi"
	"github.com/rmacdonaldsmith/retasync-go/internal/logging"
	"github.com/rmacdonaldsmith/retasync-go/pkg/httpclient"
)

// writeConfig writes a node.toml into a temp dir and returns its path.
func writeConfig(t *testing.T, meshMode, authToken string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
[node]
identity = "test-node"
default_destination = "remote-node"

[mesh]
mode = %q
endpoint = "127.0.0.1:1"
link_probe_interval = "50ms"
link_probe_timeout = "20ms"

[http]
bind = "127.0.0.1:0"
auth_token = %q

[storage]
path = %q

[logging]
level = "debug"
`, meshMode, authToken, filepath.Join(dir, "retasync.db"))

	path := filepath.Join(dir, "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func startDaemon(t *testing.T, path string) (*daemon, *httpclient.Client) {
	t.Helper()
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	d, err := newDaemon(ctx, cfg, zaptest.NewLogger(t), logging.NewBuffer(100))
	require.NoError(t, err)
	t.Cleanup(d.closeAll)
	require.NoError(t, d.node.Start(ctx))

	ts := httptest.NewServer(d.server.Handler())
	t.Cleanup(ts.Close)

	client, err := httpclient.NewClient(httpclient.Config{
		ServerURL: ts.URL,
		Identity:  "operator",
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	return d, client
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, appName)
	assert.Contains(t, out, "v"+appVersion)
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, config.MeshModeMemory, "token-secret")

	out, err := execute(t, "--config", path, "token", "--identity", "ops-console", "--admin", "--ttl", "1h")
	require.NoError(t, err)

	token := strings.SplitN(strings.TrimSpace(out), "\n", 2)[0]
	claims, err := httpapi.NewJWTAuth("token-secret").ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-console", claims.Identity)
	assert.True(t, claims.Admin)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommand_Errors(t *testing.T) {
	t.Run("auth disabled", func(t *testing.T) {
		path := writeConfig(t, config.MeshModeMemory, "")
		_, err := execute(t, "--config", path, "token", "--identity", "ops-console")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authentication is disabled")
	})

	t.Run("identity required", func(t *testing.T) {
		path := writeConfig(t, config.MeshModeMemory, "token-secret")
		_, err := execute(t, "--config", path, "token")
		require.Error(t, err)
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.toml"), "token", "--identity", "x")
		require.Error(t, err)
	})
}

func TestHealthFlag(t *testing.T) {
	path := writeConfig(t, config.MeshModeMemory, "")

	out, err := execute(t, "--config", path, "serve", "--health")
	require.NoError(t, err)
	assert.Contains(t, out, "Health Status")
	assert.Contains(t, out, "Ready: ✅ Healthy")
}

func TestDaemon_MemoryModeRoundTrip(t *testing.T) {
	_, client := startDaemon(t, writeConfig(t, config.MeshModeMemory, ""))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ready, err := client.Ready(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", ready.Status)

	resp, err := client.SubmitCommand(ctx, "emergency_action_message.create",
		map[string]any{"callsign": "ALPHA", "priority": 1}, httpclient.CommandOptions{})
	require.NoError(t, err)

	job, err := client.WaitForJob(ctx, resp.JobID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, httpclient.StatusSucceeded, job.Status)
	assert.Equal(t, "test-node", job.SourceIdentity)
	assert.Equal(t, "remote-node", job.DestinationIdentity)

	result, err := client.GetJobResult(ctx, resp.JobID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"accepted","operation":"emergency_action_message.create"}`, string(result.Result))
}

func TestDaemon_LoopbackModeRoundTrip(t *testing.T) {
	d, client := startDaemon(t, writeConfig(t, config.MeshModeLoopback, ""))
	require.NotNil(t, d.loopback)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.Eventually(t, func() bool {
		_, err := client.Ready(ctx)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := client.SubmitCommand(ctx, "emergency_action_message.create",
		map[string]any{"callsign": "BRAVO"}, httpclient.CommandOptions{Transport: "propagation"})
	require.NoError(t, err)

	job, err := client.WaitForJob(ctx, resp.JobID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, httpclient.StatusSucceeded, job.Status)
	assert.Equal(t, "propagation", job.TransportHint)

	accepted := d.loopback.Daemon.Accepted()
	require.NotEmpty(t, accepted)
}

func TestDaemon_DaemonModeUnreachable(t *testing.T) {
	_, client := startDaemon(t, writeConfig(t, config.MeshModeDaemon, ""))
	ctx := context.Background()

	_, err := client.Ready(ctx)
	require.Error(t, err)

	var apiErr *httpclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
}
