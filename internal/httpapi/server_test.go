package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/retasync-go/internal/acl"
	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

const commandPath = "/v1/jobs/commands/emergency_action_message.create"

func TestServer_Health(t *testing.T) {
	setup := NewTestServerSetup(t, nil)

	rec := setup.Do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = setup.Do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.True(t, health.Ready)
	assert.True(t, health.StoreHealthy)
	assert.Equal(t, "up", health.LinkState)
}

func TestServer_ReadyWithoutTransport(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	setup.Bridge.SetLinkUp(false)
	setup.Bridge.SetPropagationUp(false)

	rec := setup.Do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.False(t, health.Ready)
	assert.Equal(t, "unavailable", health.Status)
	assert.Contains(t, health.Message, "mesh")
}

func TestServer_Authentication(t *testing.T) {
	setup := NewTestServerSetup(t, nil)

	rec := setup.Do(t, http.MethodGet, "/v1/node/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonUnauthorized, decode[ErrorResponse](t, rec).Reason)

	rec = setup.Do(t, http.MethodGet, "/v1/node/status", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := setup.GenerateTestToken(t, "caller", false)
	rec = setup.Do(t, http.MethodGet, "/v1/node/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[NodeStatusResponse](t, rec)
	assert.Equal(t, "local-node", status.Identity)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, "disabled", status.ACLMode)
	assert.True(t, status.Healthy)
}

func TestServer_UnknownRoute(t *testing.T) {
	setup := NewTestServerSetup(t, nil)

	rec := setup.Do(t, http.MethodGet, "/v2/anything", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ReasonNotFound, decode[ErrorResponse](t, rec).Reason)
}

func TestServer_SubmitCommandLifecycle(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	token := setup.GenerateTestToken(t, "caller", false)

	rec := setup.Do(t, http.MethodPost, commandPath+"?ttl_ms=60000", token,
		[]byte(`{"message":"evacuate sector 7","priority":1}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	submitted := decode[SubmitResponse](t, rec)
	require.NotEmpty(t, submitted.JobID)
	assert.Equal(t, "/v1/jobs/"+submitted.JobID, submitted.StatusURL)

	setup.WaitForJob(t, submitted.JobID, storepkg.StatusSucceeded)

	rec = setup.Do(t, http.MethodGet, submitted.StatusURL, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[JobResponse](t, rec)
	assert.Equal(t, "emergency_action_message.create", job.Operation)
	assert.Equal(t, string(storepkg.StatusSucceeded), job.Status)
	assert.Equal(t, "local-node", job.SourceIdentity)
	assert.Equal(t, "remote-node", job.DestinationIdentity)
	assert.Equal(t, int64(60000), job.TTLMillis)
	assert.Equal(t, "link", job.TransportHint)
	assert.JSONEq(t, `{"message":"evacuate sector 7","priority":1}`, string(job.Payload))

	rec = setup.Do(t, http.MethodGet, submitted.StatusURL+"/result", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[JobResultResponse](t, rec)
	assert.JSONEq(t, `{"status":"accepted","operation":"emergency_action_message.create"}`, string(result.Result))

	rec = setup.Do(t, http.MethodGet, submitted.StatusURL+"/attempts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	attempts := decode[AttemptsResponse](t, rec)
	require.Len(t, attempts.Attempts, 1)
	assert.Equal(t, 1, attempts.Attempts[0].AttemptNo)
}

func TestServer_SubmitCommandValidation(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	token := setup.GenerateTestToken(t, "caller", false)

	tests := []struct {
		name  string
		path  string
		body  []byte
		field string
	}{
		{"unnamespaced operation", "/v1/jobs/commands/create", []byte(`{}`), "operation"},
		{"uppercase operation", "/v1/jobs/commands/Alert.Create", []byte(`{}`), "operation"},
		{"malformed body", commandPath, []byte(`{"message":`), "payload"},
		{"bad ttl", commandPath + "?ttl_ms=soon", []byte(`{}`), "ttl_ms"},
		{"negative ttl", commandPath + "?ttl_ms=-5", []byte(`{}`), "ttl_ms"},
		{"unknown transport", commandPath + "?transport=carrier-pigeon", []byte(`{}`), "transport_hint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := setup.Do(t, http.MethodPost, tt.path, token, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, ReasonValidation, resp.Reason)
			assert.Equal(t, tt.field, resp.Field)
		})
	}

	jobs, err := setup.Store.ListJobsByStatus(context.Background(), storepkg.StatusSubmitted)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestServer_BodyTooLarge(t *testing.T) {
	setup := NewTestServerSetup(t, func(c *Config) { c.MaxBodyBytes = 16 })
	token := setup.GenerateTestToken(t, "caller", false)

	rec := setup.Do(t, http.MethodPost, commandPath, token, []byte(`{"message":"this body is far too long"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_DenylistedCallerCreatesNoJob(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	admin := setup.GenerateTestToken(t, "operator", true)
	blocked := setup.GenerateTestToken(t, "blocked-identity", false)

	rec := setup.Do(t, http.MethodPost, "/v1/security/denylist", admin, AclEntryRequest{IdentityHash: "blocked-identity"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = setup.Do(t, http.MethodPut, "/v1/node/config", admin, map[string]any{"acl_mode": "denylist"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = setup.Do(t, http.MethodPost, commandPath, blocked, []byte(`{}`))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ReasonAclRejected, decode[ErrorResponse](t, rec).Reason)

	for _, status := range []storepkg.Status{storepkg.StatusSubmitted, storepkg.StatusDispatched, storepkg.StatusFailed} {
		jobs, err := setup.Store.ListJobsByStatus(context.Background(), status)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	}
	assert.Empty(t, setup.Bridge.Sent())
}

func TestServer_TransportUnavailableFailsJob(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	setup.Bridge.SetLinkUp(false)
	setup.Bridge.SetPropagationUp(false)
	token := setup.GenerateTestToken(t, "caller", false)

	rec := setup.Do(t, http.MethodPost, commandPath, token, []byte(`{}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decode[SubmitResponse](t, rec).JobID

	setup.WaitForJob(t, jobID, storepkg.StatusFailed)
	rec = setup.Do(t, http.MethodGet, "/v1/jobs/"+jobID, token, nil)
	assert.Equal(t, "transport_unavailable", decode[JobResponse](t, rec).FailureReason)

	rec = setup.Do(t, http.MethodGet, "/v1/jobs/"+jobID+"/result", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ReasonJobResultNotFound, decode[ErrorResponse](t, rec).Reason)
}

func TestServer_NotFoundReasons(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	token := setup.GenerateTestToken(t, "caller", true)

	tests := []struct {
		method string
		path   string
		reason string
	}{
		{http.MethodGet, "/v1/jobs/missing", ReasonJobNotFound},
		{http.MethodGet, "/v1/jobs/missing/result", ReasonJobNotFound},
		{http.MethodGet, "/v1/jobs/missing/attempts", ReasonJobNotFound},
		{http.MethodGet, "/v1/transfers/missing", ReasonTransferNotFound},
		{http.MethodDelete, "/v1/security/allowlist/999", ReasonAclEntryNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := setup.Do(t, tt.method, tt.path, token, nil)
			require.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, tt.reason, decode[ErrorResponse](t, rec).Reason)
		})
	}
}

func TestServer_RateLimit(t *testing.T) {
	setup := NewTestServerSetup(t, func(c *Config) {
		c.SubmitRate = 0.01
		c.SubmitBurst = 1
	})
	token := setup.GenerateTestToken(t, "caller", false)

	rec := setup.Do(t, http.MethodPost, commandPath, token, []byte(`{}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = setup.Do(t, http.MethodPost, commandPath, token, []byte(`{}`))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ReasonRateLimited, decode[ErrorResponse](t, rec).Reason)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads are not rate limited.
	rec = setup.Do(t, http.MethodGet, "/v1/node/status", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_PublishEvent(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	token := setup.GenerateTestToken(t, "caller", false)

	rec := setup.Do(t, http.MethodPost, "/v1/events/sensor.reading", token, []byte(`{"celsius":21}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[PublishResponse](t, rec)
	assert.NotEmpty(t, resp.MessageID)
	assert.Equal(t, "link", resp.Transport)

	setup.Bridge.SetLinkUp(false)
	setup.Bridge.SetPropagationUp(false)
	rec = setup.Do(t, http.MethodPost, "/v1/events/sensor.reading", token, []byte(`{}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ReasonTransportUnavailable, decode[ErrorResponse](t, rec).Reason)
}

func TestServer_Upload(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	token := setup.GenerateTestToken(t, "caller", false)

	rec := setup.Do(t, http.MethodPost, "/v1/jobs/transfers/upload", token, UploadRequest{
		FileName:      "map.txt",
		MediaType:     "text/plain",
		PayloadBase64: "aGVsbG8gbWVzaA==",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	submitted := decode[SubmitResponse](t, rec)
	assert.Equal(t, submitted.JobID, submitted.TransferID)
	assert.Equal(t, "/v1/transfers/"+submitted.TransferID, submitted.StatusURL)

	var transfer TransferResponse
	require.Eventually(t, func() bool {
		rec := setup.Do(t, http.MethodGet, submitted.StatusURL, token, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		transfer = decode[TransferResponse](t, rec)
		return transfer.Status == string(storepkg.StatusSucceeded)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "map.txt", transfer.FileName)
	assert.Equal(t, int64(len("hello mesh")), transfer.Size)
	assert.True(t, strings.HasPrefix(transfer.Checksum, "blake3:"))

	rec = setup.Do(t, http.MethodPost, "/v1/jobs/transfers/upload", token, UploadRequest{FileName: "x", PayloadBase64: "***"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_NodeConfig(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	admin := setup.GenerateTestToken(t, "operator", true)
	user := setup.GenerateTestToken(t, "caller", false)

	rec := setup.Do(t, http.MethodGet, "/v1/node/config", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = setup.Do(t, http.MethodPut, "/v1/node/config", user, map[string]any{"prefer_link": false})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ReasonForbidden, decode[ErrorResponse](t, rec).Reason)

	rec = setup.Do(t, http.MethodPut, "/v1/node/config", admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = setup.Do(t, http.MethodPut, "/v1/node/config", admin, map[string]any{"acl_mode": "sometimes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = setup.Do(t, http.MethodPut, "/v1/node/config", admin, map[string]any{
		"prefer_link": false,
		"retention":   map[string]any{"jobs": "48h"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated struct {
		RevisionID int64 `json:"revision_id"`
		Config     struct {
			PreferLink bool `json:"prefer_link"`
			Retention  struct {
				Jobs string `json:"jobs"`
			} `json:"retention"`
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Positive(t, updated.RevisionID)
	assert.False(t, updated.Config.PreferLink)
	assert.Equal(t, "48h", updated.Config.Retention.Jobs)
}

func TestServer_Contract(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	token := setup.GenerateTestToken(t, "caller", false)

	rec := setup.Do(t, http.MethodGet, "/v1/contracts/asyncapi", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "asyncapi:")

	r := newRequest(t, http.MethodGet, "/v1/contracts/asyncapi", token, nil)
	r.Header.Set("Accept", "application/json")
	rec = serve(setup, r)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc, "channels")
}

func TestServer_CacheAndLogs(t *testing.T) {
	setup := NewTestServerSetup(t, nil)
	token := setup.GenerateTestToken(t, "caller", false)
	ctx := context.Background()

	payload, err := envelope.EncodePayload(map[string]any{"celsius": 21})
	require.NoError(t, err)
	require.NoError(t, setup.Bridge.Inject(ctx, envelope.NewEvent("sensor.reading", "remote-node", "local-node", payload)))
	require.NoError(t, setup.Bridge.Inject(ctx, envelope.NewCommand("relay.ping", "remote-node", "local-node", payload)))

	var events struct {
		Events []CachedEventResponse `json:"events"`
	}
	require.Eventually(t, func() bool {
		rec := setup.Do(t, http.MethodGet, "/v1/cache/events", token, nil)
		return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &events) == nil && len(events.Events) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "sensor.reading", events.Events[0].Name)
	assert.JSONEq(t, `{"celsius":21}`, string(events.Events[0].Payload))

	var messages struct {
		Messages []CachedMessageResponse `json:"messages"`
	}
	require.Eventually(t, func() bool {
		rec := setup.Do(t, http.MethodGet, "/v1/cache/messages?limit=10", token, nil)
		return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &messages) == nil && len(messages.Messages) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "command", messages.Messages[0].Kind)
	assert.Equal(t, "relay.ping", messages.Messages[0].Operation)

	rec := setup.Do(t, http.MethodGet, "/v1/cache/events?limit=0", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = setup.Do(t, http.MethodPost, commandPath, token, []byte(`{}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = setup.Do(t, http.MethodGet, "/v1/logs?contains=job+submitted", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs struct {
		Lines []struct {
			Message string `json:"message"`
		} `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.NotEmpty(t, logs.Lines)
	assert.Equal(t, "job submitted", logs.Lines[0].Message)

	rec = setup.Do(t, http.MethodGet, "/v1/logs?since=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_NoAuthUsesIdentityHeader(t *testing.T) {
	setup := NewTestServerSetup(t, func(c *Config) { c.AuthToken = "" })
	require.Nil(t, setup.Server.Auth())

	rec := setup.Do(t, http.MethodPost, "/v1/security/denylist", "", AclEntryRequest{IdentityHash: "blocked-identity"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	setup.Gate.SetMode(acl.ModeDenylist)

	r := newRequest(t, http.MethodPost, commandPath, "", nil)
	r.Header.Set(IdentityHeader, "blocked-identity")
	rec = serve(setup, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = setup.Do(t, http.MethodPost, commandPath, "", []byte(`{}`))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
