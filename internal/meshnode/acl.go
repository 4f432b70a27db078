package meshnode

import (
	"context"

	"github.com/rmacdonaldsmith/retasync-go/pkg/fanout"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// AddAclEntry adds identity to list and publishes the list's update
// notification.
func (n *Node) AddAclEntry(ctx context.Context, list storepkg.AclList, identity, note string) (*storepkg.AclEntry, error) {
	entry, err := n.gate.AddEntry(ctx, list, identity, note)
	if err != nil {
		return nil, err
	}
	n.publishAcl(list, fanout.AclUpdated{Action: "added", IdentityHash: entry.IdentityHash, EntryID: entry.ID})
	return entry, nil
}

// RemoveAclEntry deletes identity from list and publishes the list's
// update notification.
func (n *Node) RemoveAclEntry(ctx context.Context, list storepkg.AclList, identity string) error {
	if err := n.gate.RemoveEntry(ctx, list, identity); err != nil {
		return err
	}
	n.publishAcl(list, fanout.AclUpdated{Action: "removed", IdentityHash: identity, Deleted: true})
	return nil
}

// ListAclEntries returns the entries of list.
func (n *Node) ListAclEntries(ctx context.Context, list storepkg.AclList) ([]storepkg.AclEntry, error) {
	return n.gate.ListEntries(ctx, list)
}

func (n *Node) publishAcl(list storepkg.AclList, update fanout.AclUpdated) {
	kind := fanout.KindAllowlistUpdated
	if list == storepkg.AclDeny {
		kind = fanout.KindDenylistUpdated
	}
	update.List = string(list)
	update.Mode = n.gate.Mode().String()
	n.hub.Publish(fanout.Notification{Kind: kind, Data: update})
}
