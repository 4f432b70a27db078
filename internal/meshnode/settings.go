package meshnode

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/internal/config"
	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/fanout"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// Settings returns the runtime-mutable configuration currently in effect.
func (n *Node) Settings() config.Dynamic {
	n.settingsMu.Lock()
	defer n.settingsMu.Unlock()
	return n.settings
}

// UpdateSettings validates patch, appends a config revision, applies the
// result and publishes node.config.updated. An invalid patch returns an
// *envelope.ValidationError and changes nothing.
func (n *Node) UpdateSettings(ctx context.Context, patch config.DynamicPatch) (config.Dynamic, *storepkg.ConfigRevision, error) {
	n.settingsMu.Lock()
	defer n.settingsMu.Unlock()

	next, err := n.settings.Apply(patch)
	if err != nil {
		return config.Dynamic{}, nil, &envelope.ValidationError{Field: "config", Reason: err.Error()}
	}
	raw, err := next.MarshalRevision()
	if err != nil {
		return config.Dynamic{}, nil, fmt.Errorf("serialize config revision: %w", err)
	}
	rev, err := n.store.AppendConfigRevision(ctx, raw)
	if err != nil {
		return config.Dynamic{}, nil, err
	}
	if err := n.applySettings(next); err != nil {
		return config.Dynamic{}, nil, err
	}

	n.logger.Info("node config updated",
		zap.Int64("revision_id", rev.RevisionID),
		zap.Stringer("acl_mode", next.ACLMode),
		zap.Bool("prefer_link", next.PreferLink))
	n.hub.Publish(fanout.Notification{
		Kind: fanout.KindNodeConfigUpdated,
		Data: fanout.NodeConfigUpdated{RevisionID: rev.RevisionID},
	})
	return next, rev, nil
}

// restoreSettings applies the newest stored revision, if any.
func (n *Node) restoreSettings(ctx context.Context) error {
	rev, err := n.store.LatestConfigRevision(ctx)
	if errors.Is(err, storepkg.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	restored, err := config.ParseRevision(rev.Config)
	if err != nil {
		return err
	}

	n.settingsMu.Lock()
	defer n.settingsMu.Unlock()
	if err := n.applySettings(restored); err != nil {
		return fmt.Errorf("apply config revision %d: %w", rev.RevisionID, err)
	}
	n.logger.Info("restored config revision", zap.Int64("revision_id", rev.RevisionID))
	return nil
}

// applySettings pushes d into the gate, the bridge and the sweeper.
// settingsMu must be held.
func (n *Node) applySettings(d config.Dynamic) error {
	policy, err := d.RetentionPolicy()
	if err != nil {
		return err
	}
	n.gate.SetMode(d.ACLMode)
	n.bridge.SetPreferLink(d.PreferLink)
	n.settings = d
	n.retention = policy
	return nil
}

func (n *Node) retentionPolicy() storepkg.RetentionPolicy {
	n.settingsMu.Lock()
	defer n.settingsMu.Unlock()
	return n.retention
}
