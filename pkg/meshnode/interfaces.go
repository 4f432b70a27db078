package meshnode

import (
	"context"
	"io"
	"time"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
	"github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// CommandRequest is a command submitted by a local client.
type CommandRequest struct {
	// Operation is the namespaced operation name, e.g. "emergency_action_message.create".
	Operation string
	// Payload is the JSON request body.
	Payload []byte
	// Identity is the caller's identity hash, checked against the ACL.
	Identity string
	// Destination overrides the node's default destination identity.
	Destination string
	// TTL overrides the node's default time-to-live. Zero uses the default.
	TTL time.Duration
	// Transport forces a mesh path. Empty lets the bridge choose.
	Transport envelope.TransportHint
}

// EventRequest is a fire-and-forget event published by a local client.
type EventRequest struct {
	Event       string
	Payload     []byte
	Identity    string
	Destination string
}

// TransferRequest is a file upload submitted by a local client.
type TransferRequest struct {
	Identity      string
	Destination   string
	FileName      string
	MediaType     string
	PayloadBase64 string
}

// MeshNode accepts local requests and turns them into mesh traffic.
//
// Commands become asynchronous jobs: SubmitCommand persists the job and
// returns before any mesh I/O happens. The outcome arrives later through
// the store and the notification hub.
type MeshNode interface {
	io.Closer

	// Start recovers interrupted work and starts the background loops.
	Start(ctx context.Context) error

	// Stop cancels background work and waits for it to finish.
	Stop(ctx context.Context) error

	// SubmitCommand validates, authorizes and persists a command job.
	SubmitCommand(ctx context.Context, req CommandRequest) (*store.Job, error)

	// PublishEvent authorizes and sends an event. No job is created.
	PublishEvent(ctx context.Context, req EventRequest) (meshbridge.Receipt, error)

	// SubmitTransfer validates, authorizes and persists an upload, then
	// sends its chunks in the background.
	SubmitTransfer(ctx context.Context, req TransferRequest) (*store.Transfer, error)

	// GetNodeID returns this node's identity hash.
	GetNodeID() string

	// GetHealth reports the node's readiness and component health.
	GetHealth(ctx context.Context) (HealthStatus, error)
}

// HealthStatus represents the overall health of a node.
type HealthStatus struct {
	// Healthy indicates the node is running and its store responds.
	Healthy bool

	// Ready indicates the mesh daemon is reachable.
	Ready bool

	StoreHealthy bool

	// LinkState is the bridge's cached link reachability.
	LinkState meshbridge.LinkState

	// InFlight is the number of dispatches currently in progress.
	InFlight int

	// StartedAt is zero until Start succeeds.
	StartedAt time.Time

	// Message provides additional health information
	Message string
}
