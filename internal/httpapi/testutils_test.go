package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/rmacdonaldsmith/retasync-go/internal/acl"
	"github.com/rmacdonaldsmith/retasync-go/internal/contract"
	"github.com/rmacdonaldsmith/retasync-go/internal/fanout"
	"github.com/rmacdonaldsmith/retasync-go/internal/logging"
	"github.com/rmacdonaldsmith/retasync-go/internal/meshbridge"
	"github.com/rmacdonaldsmith/retasync-go/internal/meshnode"
	"github.com/rmacdonaldsmith/retasync-go/internal/store"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

const testSecret = "test-secret-key"

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Node    *meshnode.Node
	Store   *store.SQLiteStore
	Bridge  *meshbridge.MemoryBridge
	Gate    *acl.Gate
	Hub     *fanout.Hub
	Logs    *logging.Buffer
	Server  *Server
	Handler http.Handler
}

// NewTestServerSetup starts a node over a temporary store and an
// in-memory bridge whose peer accepts every command, and builds a server
// on top of it. configure may adjust the server config; the AuthToken
// defaults to testSecret and may be cleared to disable authentication.
func NewTestServerSetup(t *testing.T, configure func(*Config)) *TestServerSetup {
	t.Helper()

	logs := logging.NewBuffer(100)
	logger := zaptest.NewLogger(t).WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, logging.NewBufferCore(logs, zapcore.DebugLevel))
	}))

	st, err := store.Open(context.Background(), store.Config{Path: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)

	bridge := meshbridge.NewMemoryBridge(meshbridge.MemoryOptions{
		PreferLink:    true,
		LinkUp:        true,
		PropagationUp: true,
		Responder:     meshbridge.AcceptResponder,
	})
	gate := acl.NewGate(st, acl.ModeDisabled, logger)
	hub := fanout.NewHub(fanout.Config{BufferSize: 256}, logger)

	node, err := meshnode.New(meshnode.NewConfig("local-node", "remote-node"), meshnode.Components{
		Store: st, Bridge: bridge, Gate: gate, Hub: hub, Logger: logger,
	})
	require.NoError(t, err)
	require.NoError(t, node.Start(context.Background()))

	doc, err := contract.Load("")
	require.NoError(t, err)

	cfg := Config{AuthToken: testSecret, KeepaliveInterval: time.Hour, Version: "test"}
	if configure != nil {
		configure(&cfg)
	}
	server := NewServer(Deps{
		Node:     node,
		Store:    st,
		Hub:      hub,
		Logs:     logs,
		Contract: doc,
		Logger:   logger,
	}, cfg)

	t.Cleanup(func() {
		_ = node.Close()
		hub.Close()
		_ = st.Close()
	})

	return &TestServerSetup{
		Node:    node,
		Store:   st,
		Bridge:  bridge,
		Gate:    gate,
		Hub:     hub,
		Logs:    logs,
		Server:  server,
		Handler: server.Handler(),
	}
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, identity string, admin bool) string {
	t.Helper()
	require.NotNil(t, setup.Server.Auth(), "authentication is disabled")

	token, _, err := setup.Server.Auth().GenerateToken(identity, admin, time.Hour)
	require.NoError(t, err)
	return token
}

// Do runs one request through the router. body may be nil, a []byte, or
// any value to JSON-encode.
func (setup *TestServerSetup) Do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}

	var reader io.Reader
	if raw != nil {
		reader = bytes.NewReader(raw)
	}
	req := newRequest(t, method, path, token, reader)
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return serve(setup, req)
}

// newRequest builds a request carrying token when it is set.
func newRequest(t *testing.T, method, path, token string, body io.Reader) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(setup *TestServerSetup, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	setup.Handler.ServeHTTP(rec, req)
	return rec
}

// WaitForJob polls the store until the job reaches status.
func (setup *TestServerSetup) WaitForJob(t *testing.T, jobID string, status storepkg.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := setup.Store.GetJob(context.Background(), jobID)
		return err == nil && job.Status == status
	}, 2*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, status)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// StreamingRecorder captures streaming data for testing SSE endpoints
type StreamingRecorder struct {
	*httptest.ResponseRecorder
	Data chan string
}

// NewStreamingRecorder creates a new streaming recorder for SSE testing
func NewStreamingRecorder() *StreamingRecorder {
	return &StreamingRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		Data:             make(chan string, 100), // Buffered to prevent blocking
	}
}

// Write implements io.Writer for capturing streaming data
func (r *StreamingRecorder) Write(data []byte) (int, error) {
	select {
	case r.Data <- string(data):
	default:
		// Channel full, skip
	}
	return len(data), nil
}
