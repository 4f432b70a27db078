package fanout

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind names a notification category.
type Kind string

const (
	KindJobStatusChanged  Kind = "job.status.changed"
	KindMeshEventReceived Kind = "mesh.event.received"
	KindTransferProgress  Kind = "transfer.progress"
	KindLinkStateChanged  Kind = "link.state.changed"
	KindNodeConfigUpdated Kind = "node.config.updated"
	KindAllowlistUpdated  Kind = "security.allowlist.updated"
	KindDenylistUpdated   Kind = "security.denylist.updated"
)

// Notification is one fanned-out state change.
type Notification struct {
	Seq        uint64    `json:"seq"`
	Kind       Kind      `json:"kind"`
	At         time.Time `json:"at"`
	JobID      string    `json:"job_id,omitempty"`
	TransferID string    `json:"transfer_id,omitempty"`
	Data       any       `json:"data,omitempty"`
}

// JobStatusChanged is the Data of a job.status.changed notification.
type JobStatusChanged struct {
	JobID         string    `json:"job_id"`
	Operation     string    `json:"operation"`
	Status        string    `json:"status"`
	Transport     string    `json:"transport,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MeshEventReceived is the Data of a mesh.event.received notification.
type MeshEventReceived struct {
	MessageID      string          `json:"message_id"`
	Event          string          `json:"event"`
	SourceIdentity string          `json:"source_identity"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// TransferProgress is the Data of a transfer.progress notification.
type TransferProgress struct {
	TransferID         string `json:"transfer_id"`
	Status             string `json:"status"`
	ChunksSent         int    `json:"chunks_sent"`
	ChunksAcknowledged int    `json:"chunks_acknowledged"`
	ChunksTotal        int    `json:"chunks_total"`
	FailureReason      string `json:"failure_reason,omitempty"`
}

// LinkStateChanged is the Data of a link.state.changed notification.
type LinkStateChanged struct {
	State string `json:"state"`
}

// NodeConfigUpdated is the Data of a node.config.updated notification.
type NodeConfigUpdated struct {
	RevisionID int64 `json:"revision_id"`
}

// AclUpdated is the Data of a security.allowlist.updated or
// security.denylist.updated notification.
type AclUpdated struct {
	List         string `json:"list"`
	Action       string `json:"action"`
	IdentityHash string `json:"identity_hash"`
	EntryID      int64  `json:"entry_id,omitempty"`
	Deleted      bool   `json:"deleted,omitempty"`
	Mode         string `json:"mode,omitempty"`
}

// Filter selects notifications for a subscriber. Empty fields match
// everything; non-empty fields are ANDed together.
type Filter struct {
	Kinds       []string
	JobIDs      []string
	TransferIDs []string
}

// Matches reports whether n passes the filter.
func (f Filter) Matches(n Notification) bool {
	if len(f.Kinds) > 0 {
		matched := false
		for _, pattern := range f.Kinds {
			if MatchKind(pattern, n.Kind) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(f.JobIDs) > 0 && !contains(f.JobIDs, n.JobID) {
		return false
	}
	if len(f.TransferIDs) > 0 && !contains(f.TransferIDs, n.TransferID) {
		return false
	}
	return true
}

// MatchKind matches kind against a dotted pattern where "*" stands for
// exactly one segment.
func MatchKind(pattern string, kind Kind) bool {
	if pattern == string(kind) {
		return true
	}
	ps := strings.Split(pattern, ".")
	ks := strings.Split(string(kind), ".")
	if len(ps) != len(ks) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != ks[i] {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	if v == "" {
		return false
	}
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
