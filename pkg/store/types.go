package store

import "time"

// Status is the lifecycle state shared by Jobs and Transfers.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusDispatched Status = "dispatched"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Failure reasons recorded on Jobs and Transfers.
const (
	ReasonTransportUnavailable = "transport_unavailable"
	ReasonTransportError       = "transport_error"
	ReasonTimeoutExpired       = "timeout_expired"
	ReasonInterrupted          = "interrupted"
	ReasonNoReceipt            = "no_receipt"
)

// Job tracks one outbound command.
type Job struct {
	JobID         string
	Operation     string
	Status        Status
	Payload       []byte
	SubmittedAt   time.Time
	UpdatedAt     time.Time
	FailureReason string

	// MessageID is the command envelope's message_id; inbound results
	// correlate against it.
	MessageID           string
	SourceIdentity      string
	DestinationIdentity string
	TTLMillis           int64
	DeadlineAt          *time.Time
	TransportHint       string
	// RequestedTransport is the transport the caller asked for, if any.
	RequestedTransport string
}

// JobResult is the terminal result of a succeeded Job.
type JobResult struct {
	JobID       string
	Result      []byte
	CompletedAt time.Time
}

// AttemptStatus is the state of a single JobAttempt.
type AttemptStatus string

const (
	AttemptRunning    AttemptStatus = "running"
	AttemptDispatched AttemptStatus = "dispatched"
	AttemptSucceeded  AttemptStatus = "succeeded"
	AttemptFailed     AttemptStatus = "failed"
)

// JobAttempt records one send of a Job's command envelope.
type JobAttempt struct {
	JobID      string
	AttemptNo  int
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     AttemptStatus
	Diagnostic string
}

// CachedEvent is an inbound Event envelope.
type CachedEvent struct {
	EventID        string
	Name           string
	SourceIdentity string
	Payload        []byte
	ReceivedAt     time.Time
}

// CachedMessage is an inbound Command or Transfer envelope.
type CachedMessage struct {
	MessageID      string
	Kind           string
	Operation      string
	SourceIdentity string
	CorrelationID  string
	Payload        []byte
	ReceivedAt     time.Time
}

// TransferMetadata describes a transfer and its chunk progress.
type TransferMetadata struct {
	SourceIdentity      string `json:"source_identity"`
	DestinationIdentity string `json:"destination_identity"`
	FileName            string `json:"file_name"`
	MediaType           string `json:"media_type"`
	Size                int64  `json:"size"`
	Checksum            string `json:"checksum"`
	ChunkSize           int    `json:"chunk_size"`
	ChunksTotal         int    `json:"chunks_total"`
	ChunksSent          int    `json:"chunks_sent"`
	ChunksAcknowledged  int    `json:"chunks_acknowledged"`
	FirstMessageID      string `json:"first_message_id,omitempty"`
	LastMessageID       string `json:"last_message_id,omitempty"`
	Transport           string `json:"transport,omitempty"`
}

// Transfer tracks one outbound file transfer.
type Transfer struct {
	TransferID    string
	Status        Status
	Metadata      TransferMetadata
	SubmittedAt   time.Time
	UpdatedAt     time.Time
	FailureReason string
}

// AclList selects the allow set or the deny set.
type AclList string

const (
	AclAllow AclList = "allow"
	AclDeny  AclList = "deny"
)

// Other returns the opposite set.
func (l AclList) Other() AclList {
	if l == AclAllow {
		return AclDeny
	}
	return AclAllow
}

// AclEntry is one identity in an ACL set.
type AclEntry struct {
	ID           int64
	IdentityHash string
	Note         string
	CreatedAt    time.Time
}

// ConfigRevision is an immutable snapshot of the mutable configuration.
type ConfigRevision struct {
	RevisionID int64
	Config     string
	CreatedAt  time.Time
}

// RetentionPolicy sets the maximum age of each entity group.
type RetentionPolicy struct {
	Jobs      time.Duration
	Cache     time.Duration
	Transfers time.Duration
}

// DefaultRetentionPolicy keeps jobs and cached traffic for a day and
// transfers for a week.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		Jobs:      24 * time.Hour,
		Cache:     24 * time.Hour,
		Transfers: 7 * 24 * time.Hour,
	}
}

// SweepResult counts the rows removed by one retention sweep.
type SweepResult struct {
	Jobs           int64
	CachedEvents   int64
	CachedMessages int64
	Transfers      int64
}
