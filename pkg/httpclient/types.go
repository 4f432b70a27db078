package httpclient

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the retasyncd HTTP API (e.g., "http://127.0.0.1:8787")
	ServerURL string

	// Token is a bearer token minted by `retasyncd token`. Leave empty when
	// the daemon runs without authentication.
	Token string

	// Identity is sent in X-Retasync-Identity when Token is empty.
	Identity string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Job statuses.
const (
	StatusSubmitted  = "submitted"
	StatusDispatched = "dispatched"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
)

// Terminal reports whether status is final.
func Terminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Reason     string `json:"reason"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("API error (%d %s): %s [field %s]", e.StatusCode, e.Reason, e.Message, e.Field)
	}
	return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Reason, e.Message)
}

// CommandOptions are the optional parts of a command submission.
type CommandOptions struct {
	Destination string
	// TTL of zero uses the daemon's default.
	TTL time.Duration
	// Transport is "link" or "propagation"; empty lets the daemon choose.
	Transport string
}

// SubmitResponse is returned for accepted commands and uploads.
type SubmitResponse struct {
	JobID       string    `json:"job_id"`
	TransferID  string    `json:"transfer_id,omitempty"`
	StatusURL   string    `json:"status_url"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// UploadRequest describes a file transfer.
type UploadRequest struct {
	FileName      string `json:"file_name"`
	MediaType     string `json:"media_type,omitempty"`
	PayloadBase64 string `json:"payload_base64"`
	Destination   string `json:"destination,omitempty"`
}

// PublishResponse represents an event publishing response
type PublishResponse struct {
	MessageID  string    `json:"message_id"`
	Transport  string    `json:"transport"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Job is the status view of one job.
type Job struct {
	JobID               string          `json:"job_id"`
	Operation           string          `json:"operation"`
	Status              string          `json:"status"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	SubmittedAt         time.Time       `json:"submitted_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	MessageID           string          `json:"message_id"`
	SourceIdentity      string          `json:"source_identity"`
	DestinationIdentity string          `json:"destination_identity"`
	TTLMillis           int64           `json:"ttl_ms,omitempty"`
	DeadlineAt          *time.Time      `json:"deadline_at,omitempty"`
	TransportHint       string          `json:"transport_hint,omitempty"`
	RequestedTransport  string          `json:"requested_transport,omitempty"`
}

// JobResult is the result payload of a succeeded job.
type JobResult struct {
	JobID       string          `json:"job_id"`
	Result      json.RawMessage `json:"result"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Attempt is one row of a job's attempt history.
type Attempt struct {
	AttemptNo  int        `json:"attempt_no"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Diagnostic string     `json:"diagnostic,omitempty"`
}

// Transfer is the status view of one transfer.
type Transfer struct {
	TransferID          string    `json:"transfer_id"`
	Status              string    `json:"status"`
	FileName            string    `json:"file_name"`
	MediaType           string    `json:"media_type"`
	Size                int64     `json:"size"`
	Checksum            string    `json:"checksum"`
	SourceIdentity      string    `json:"source_identity"`
	DestinationIdentity string    `json:"destination_identity"`
	ChunkSize           int       `json:"chunk_size"`
	ChunksTotal         int       `json:"chunks_total"`
	ChunksSent          int       `json:"chunks_sent"`
	ChunksAcknowledged  int       `json:"chunks_acknowledged"`
	Transport           string    `json:"transport,omitempty"`
	SubmittedAt         time.Time `json:"submitted_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	FailureReason       string    `json:"failure_reason,omitempty"`
}

// CachedEvent is one inbound event from the cache.
type CachedEvent struct {
	EventID        string          `json:"event_id"`
	Name           string          `json:"name"`
	SourceIdentity string          `json:"source_identity"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// CachedMessage is one inbound message from the cache.
type CachedMessage struct {
	MessageID      string          `json:"message_id"`
	Kind           string          `json:"kind"`
	Operation      string          `json:"operation"`
	SourceIdentity string          `json:"source_identity"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// LogQuery filters GET /v1/logs. Zero values are omitted.
type LogQuery struct {
	Level    string
	Contains string
	Since    time.Time
	Limit    int
}

// LogLine is one buffered daemon log line.
type LogLine struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Logger    string         `json:"logger,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// AclEntry is one ACL entry.
type AclEntry struct {
	ID           int64     `json:"id"`
	IdentityHash string    `json:"identity_hash"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AclList is one ACL set and the current enforcement mode.
type AclList struct {
	List    string     `json:"list"`
	Mode    string     `json:"mode"`
	Entries []AclEntry `json:"entries"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Ready        bool   `json:"ready"`
	StoreHealthy bool   `json:"store_healthy"`
	LinkState    string `json:"link_state"`
	Message      string `json:"message,omitempty"`
}

// NodeStatus is GET /v1/node/status.
type NodeStatus struct {
	Identity      string    `json:"identity"`
	Version       string    `json:"version"`
	Healthy       bool      `json:"healthy"`
	Ready         bool      `json:"ready"`
	StoreHealthy  bool      `json:"store_healthy"`
	LinkState     string    `json:"link_state"`
	InFlight      int       `json:"in_flight"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	ACLMode       string    `json:"acl_mode"`
	Message       string    `json:"message,omitempty"`
}

// NodeConfig is the runtime-mutable node configuration.
type NodeConfig struct {
	ACLMode    string `json:"acl_mode"`
	PreferLink bool   `json:"prefer_link"`
	Retention  struct {
		Jobs      string `json:"jobs"`
		Cache     string `json:"cache"`
		Transfers string `json:"transfers"`
	} `json:"retention"`
}

// ConfigUpdate is the answer to UpdateConfig.
type ConfigUpdate struct {
	RevisionID int64      `json:"revision_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Config     NodeConfig `json:"config"`
}

// Notification is one push-stream frame.
type Notification struct {
	Seq        uint64          `json:"seq"`
	Kind       string          `json:"kind"`
	At         time.Time       `json:"at"`
	JobID      string          `json:"job_id,omitempty"`
	TransferID string          `json:"transfer_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}
