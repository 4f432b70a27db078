package meshnode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/internal/acl"
	"github.com/rmacdonaldsmith/retasync-go/internal/config"
	"github.com/rmacdonaldsmith/retasync-go/pkg/fanout"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshbridge"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshnode"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// Components are the collaborators a Node orchestrates. The caller owns
// the store; the node closes the bridge on Close.
type Components struct {
	Store  storepkg.Store
	Bridge meshbridge.Bridge
	Gate   *acl.Gate
	Hub    fanout.Publisher
	Logger *zap.Logger
}

// Node implements the meshnode.MeshNode interface.
// It turns local requests into envelopes, hands them to the bridge, and
// writes outcomes back through the store and the notification hub.
type Node struct {
	mu     sync.RWMutex
	config *Config
	logger *zap.Logger
	now    func() time.Time

	// Core components
	store  storepkg.Store
	bridge meshbridge.Bridge
	gate   *acl.Gate
	hub    fanout.Publisher

	// State management
	started   bool
	closed    bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	settingsMu sync.Mutex
	settings   config.Dynamic
	retention  storepkg.RetentionPolicy

	dispatchMu sync.Mutex
	inflight   map[string]*dispatch   // by job id
	byMessage  map[string]*dispatch   // by command message id
	timers     map[string]*time.Timer // TTL timers by job id

	// transferMu serializes read-modify-write of transfer metadata
	transferMu sync.Mutex
}

var _ meshnode.MeshNode = (*Node)(nil)

// New creates a node with the given configuration and components.
// Call Start() to begin operation.
func New(cfg *Config, c Components) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if c.Store == nil || c.Bridge == nil || c.Gate == nil || c.Hub == nil {
		return nil, errors.New("store, bridge, gate and hub are required")
	}
	conf := *cfg
	conf.SetDefaults()

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Node{
		config:    &conf,
		logger:    logger.Named("meshnode"),
		now:       time.Now,
		store:     c.Store,
		bridge:    c.Bridge,
		gate:      c.Gate,
		hub:       c.Hub,
		inflight:  make(map[string]*dispatch),
		byMessage: make(map[string]*dispatch),
		timers:    make(map[string]*time.Timer),
	}

	initial := config.Dynamic{
		ACLMode:    c.Gate.Mode(),
		PreferLink: conf.PreferLink,
		Retention: config.DynamicRetention{
			Jobs:      conf.Retention.Jobs.String(),
			Cache:     conf.Retention.Cache.String(),
			Transfers: conf.Retention.Transfers.String(),
		},
	}
	n.settingsMu.Lock()
	err := n.applySettings(initial)
	n.settingsMu.Unlock()
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Start verifies the ACL sets, restores the latest config revision,
// recovers unfinished work and starts the inbound loop and the retention
// sweeper.
func (n *Node) Start(ctx context.Context) error {
	n.mu.RLock()
	closed, started := n.closed, n.started
	n.mu.RUnlock()
	if closed {
		return meshnode.ErrClosed
	}
	if started {
		return nil // Already started, idempotent
	}

	if err := n.gate.VerifyDisjoint(ctx); err != nil {
		return err
	}
	if err := n.restoreSettings(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return nil
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.started = true
	n.startedAt = n.now().UTC()
	n.mu.Unlock()

	n.bridge.SetLinkStateHandler(n.onLinkState)
	n.spawn(n.receiveLoop)

	if err := n.recover(ctx); err != nil {
		_ = n.Stop(ctx)
		return fmt.Errorf("recover unfinished work: %w", err)
	}

	n.spawn(n.sweepLoop)

	n.logger.Info("mesh node started",
		zap.String("identity", n.config.Identity),
		zap.String("default_destination", n.config.DefaultDestination))
	return nil
}

// Stop cancels background work and waits for it, bounded by ctx.
// In-flight jobs keep their persisted state and are recovered by the next Start.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil // Not started, idempotent
	}
	n.started = false
	cancel := n.cancel
	n.mu.Unlock()

	n.bridge.SetLinkStateHandler(nil)
	cancel()
	n.stopTimers()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("mesh node stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for mesh node to stop: %w", ctx.Err())
	}
}

// Close stops the node, closes the bridge and marks the node as
// permanently closed.
func (n *Node) Close() error {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return nil // Already closed, idempotent
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stopErr := n.Stop(ctx)

	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	if err := n.bridge.Close(); err != nil {
		return fmt.Errorf("failed to close mesh bridge: %w", err)
	}
	return stopErr
}

// GetNodeID returns this node's identity hash.
func (n *Node) GetNodeID() string {
	return n.config.Identity
}

// GetHealth reports store and bridge health.
func (n *Node) GetHealth(ctx context.Context) (meshnode.HealthStatus, error) {
	n.mu.RLock()
	started, startedAt := n.started, n.startedAt
	n.mu.RUnlock()

	status := meshnode.HealthStatus{
		LinkState: n.bridge.LinkState(),
		InFlight:  n.inflightCount(),
		StartedAt: startedAt,
	}

	var problems []string
	if err := n.store.Ping(ctx); err != nil {
		problems = append(problems, "store: "+err.Error())
	} else {
		status.StoreHealthy = true
	}
	if err := n.bridge.Ready(ctx); err != nil {
		problems = append(problems, "mesh: "+err.Error())
	} else {
		status.Ready = true
	}
	if !started {
		problems = append(problems, "node not started")
	}

	status.Healthy = started && status.StoreHealthy
	if len(problems) == 0 {
		status.Message = "ok"
	} else {
		status.Message = strings.Join(problems, "; ")
	}
	return status, nil
}

// running returns an error unless the node accepts new work.
func (n *Node) running() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return meshnode.ErrClosed
	}
	if !n.started {
		return meshnode.ErrNotStarted
	}
	return nil
}

// spawn runs fn in a tracked goroutine with the node context. It reports
// false when the node is not running.
func (n *Node) spawn(fn func(ctx context.Context)) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.started {
		return false
	}
	ctx := n.ctx
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn(ctx)
	}()
	return true
}

func (n *Node) onLinkState(state meshbridge.LinkState) {
	n.logger.Info("link state changed", zap.Stringer("state", state))
	n.hub.Publish(fanout.Notification{
		Kind: fanout.KindLinkStateChanged,
		Data: fanout.LinkStateChanged{State: state.String()},
	})
}

func (n *Node) publishJob(job *storepkg.Job) {
	n.hub.Publish(fanout.Notification{
		Kind:  fanout.KindJobStatusChanged,
		JobID: job.JobID,
		Data: fanout.JobStatusChanged{
			JobID:         job.JobID,
			Operation:     job.Operation,
			Status:        string(job.Status),
			Transport:     job.TransportHint,
			FailureReason: job.FailureReason,
			UpdatedAt:     job.UpdatedAt,
		},
	})
}

func (n *Node) publishTransfer(t *storepkg.Transfer) {
	n.hub.Publish(fanout.Notification{
		Kind:       fanout.KindTransferProgress,
		TransferID: t.TransferID,
		Data: fanout.TransferProgress{
			TransferID:         t.TransferID,
			Status:             string(t.Status),
			ChunksSent:         t.Metadata.ChunksSent,
			ChunksAcknowledged: t.Metadata.ChunksAcknowledged,
			ChunksTotal:        t.Metadata.ChunksTotal,
			FailureReason:      t.FailureReason,
		},
	})
}
