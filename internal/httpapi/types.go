package httpapi

import (
	"encoding/json"
	"time"
)

// Request/Response types for the HTTP API

// Machine-readable error reasons.
const (
	ReasonValidation           = "validation_error"
	ReasonAclRejected          = "acl_rejected"
	ReasonJobNotFound          = "job_not_found"
	ReasonJobResultNotFound    = "job_result_not_found"
	ReasonTransferNotFound     = "transfer_not_found"
	ReasonAclEntryNotFound     = "acl_entry_not_found"
	ReasonAclOverlap           = "acl_overlap"
	ReasonUnauthorized         = "unauthorized"
	ReasonForbidden            = "forbidden"
	ReasonRateLimited          = "rate_limited"
	ReasonStorage              = "storage_error"
	ReasonTransportUnavailable = "transport_unavailable"
	ReasonTransport            = "transport_error"
	ReasonNodeUnavailable      = "node_unavailable"
	ReasonNotFound             = "not_found"
	ReasonInternal             = "internal_error"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Field   string `json:"field,omitempty"`
}

// SubmitResponse is returned with 202 for accepted commands and uploads.
type SubmitResponse struct {
	JobID       string    `json:"job_id"`
	TransferID  string    `json:"transfer_id,omitempty"`
	StatusURL   string    `json:"status_url"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// UploadRequest is the body of POST /v1/jobs/transfers/upload.
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

// JobResponse is the status view of one job.
type JobResponse struct {
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

// JobResultResponse carries the result payload of a succeeded job.
type JobResultResponse struct {
	JobID       string          `json:"job_id"`
	Result      json.RawMessage `json:"result"`
	CompletedAt time.Time       `json:"completed_at"`
}

// AttemptResponse is one row of a job's attempt history.
type AttemptResponse struct {
	AttemptNo  int        `json:"attempt_no"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Diagnostic string     `json:"diagnostic,omitempty"`
}

// AttemptsResponse lists a job's attempts.
type AttemptsResponse struct {
	JobID    string            `json:"job_id"`
	Attempts []AttemptResponse `json:"attempts"`
}

// TransferResponse is the status view of one transfer.
type TransferResponse struct {
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

// CachedEventResponse is one inbound event from the cache.
type CachedEventResponse struct {
	EventID        string          `json:"event_id"`
	Name           string          `json:"name"`
	SourceIdentity string          `json:"source_identity"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// CachedMessageResponse is one inbound message from the cache.
type CachedMessageResponse struct {
	MessageID      string          `json:"message_id"`
	Kind           string          `json:"kind"`
	Operation      string          `json:"operation"`
	SourceIdentity string          `json:"source_identity"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// AclEntryRequest is the body of POST /v1/security/{allowlist,denylist}.
type AclEntryRequest struct {
	IdentityHash string `json:"identity_hash"`
	Note         string `json:"note,omitempty"`
}

// AclEntryResponse is one ACL entry.
type AclEntryResponse struct {
	ID           int64     `json:"id"`
	IdentityHash string    `json:"identity_hash"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AclListResponse lists one ACL set.
type AclListResponse struct {
	List    string             `json:"list"`
	Mode    string             `json:"mode"`
	Entries []AclEntryResponse `json:"entries"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Ready        bool   `json:"ready"`
	StoreHealthy bool   `json:"store_healthy"`
	LinkState    string `json:"link_state"`
	Message      string `json:"message,omitempty"`
}

// NodeStatusResponse is GET /v1/node/status.
type NodeStatusResponse struct {
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

// ConfigUpdateResponse is returned by PUT /v1/node/config.
type ConfigUpdateResponse struct {
	RevisionID int64     `json:"revision_id"`
	CreatedAt  time.Time `json:"created_at"`
	Config     any       `json:"config"`
}
