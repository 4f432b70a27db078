// Package acl decides whether a caller identity may submit work, based on
// the node's allow and deny sets held in the store.
package acl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// Mode selects which set Check consults.
type Mode string

const (
	// ModeDisabled admits every identity.
	ModeDisabled Mode = "disabled"
	// ModeAllowlist admits only identities in the allow set.
	ModeAllowlist Mode = "allowlist"
	// ModeDenylist admits every identity not in the deny set.
	ModeDenylist Mode = "denylist"
)

// ParseMode parses a configured mode name. Unknown names are an error.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDisabled, ModeAllowlist, ModeDenylist:
		return m, nil
	default:
		return "", fmt.Errorf("unknown acl mode %q (want disabled, allowlist or denylist)", s)
	}
}

// UnmarshalText lets configuration decoders parse a Mode.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mode) String() string { return string(m) }

// ErrOverlap is returned when an identity would end up in both sets.
var ErrOverlap = storepkg.ErrAclOverlap

// RejectedError reports an identity refused by the gate.
type RejectedError struct {
	Identity  string
	Operation string
	Mode      Mode
}

func (e *RejectedError) Error() string {
	switch e.Mode {
	case ModeAllowlist:
		return fmt.Sprintf("identity %s is not in the allowlist", e.Identity)
	default:
		return fmt.Sprintf("identity %s is denied", e.Identity)
	}
}

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// Gate checks identities against the configured mode.
type Gate struct {
	store  storepkg.AclStore
	logger *zap.Logger

	mu   sync.RWMutex
	mode Mode
}

func NewGate(store storepkg.AclStore, mode Mode, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == "" {
		mode = ModeDisabled
	}
	return &Gate{store: store, mode: mode, logger: logger.Named("acl")}
}

// Mode returns the active mode.
func (g *Gate) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// SetMode switches mode for every later Check.
func (g *Gate) SetMode(mode Mode) {
	g.mu.Lock()
	prev := g.mode
	g.mode = mode
	g.mu.Unlock()

	if prev != mode {
		g.logger.Info("acl mode changed", zap.Stringer("from", prev), zap.Stringer("to", mode))
	}
}

// Check returns a *RejectedError when identity may not run operation.
// Store failures are returned as they are; they never admit the caller.
func (g *Gate) Check(ctx context.Context, identity, operation string) error {
	mode := g.Mode()

	var (
		rejected bool
		err      error
	)
	switch mode {
	case ModeDisabled:
		return nil
	case ModeAllowlist:
		var present bool
		present, err = g.store.HasIdentity(ctx, storepkg.AclAllow, identity)
		rejected = !present
	case ModeDenylist:
		rejected, err = g.store.HasIdentity(ctx, storepkg.AclDeny, identity)
	default:
		return fmt.Errorf("acl check: unknown mode %q", mode)
	}
	if err != nil {
		return fmt.Errorf("acl check: %w", err)
	}
	if rejected {
		g.logger.Info("identity rejected",
			zap.String("identity", identity),
			zap.String("operation", operation),
			zap.Stringer("mode", mode))
		return &RejectedError{Identity: identity, Operation: operation, Mode: mode}
	}
	return nil
}

// VerifyDisjoint fails when any identity is in both sets.
func (g *Gate) VerifyDisjoint(ctx context.Context) error {
	overlap, err := g.store.OverlappingIdentities(ctx)
	if err != nil {
		return fmt.Errorf("verify acl sets: %w", err)
	}
	if len(overlap) > 0 {
		return fmt.Errorf("%w: %s", ErrOverlap, strings.Join(overlap, ", "))
	}
	return nil
}

// AddEntry adds identity to list. ErrOverlap when it is already in the other list.
func (g *Gate) AddEntry(ctx context.Context, list storepkg.AclList, identity, note string) (*storepkg.AclEntry, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, errors.New("identity_hash cannot be empty")
	}
	entry, err := g.store.AddAclEntry(ctx, list, identity, note)
	if err != nil {
		return nil, err
	}
	g.logger.Info("acl entry added", zap.String("list", string(list)), zap.String("identity", identity))
	return entry, nil
}

// RemoveEntry deletes identity from list.
func (g *Gate) RemoveEntry(ctx context.Context, list storepkg.AclList, identity string) error {
	if err := g.store.RemoveAclEntry(ctx, list, identity); err != nil {
		return err
	}
	g.logger.Info("acl entry removed", zap.String("list", string(list)), zap.String("identity", identity))
	return nil
}

// ListEntries returns every entry in list.
func (g *Gate) ListEntries(ctx context.Context, list storepkg.AclList) ([]storepkg.AclEntry, error) {
	return g.store.ListAclEntries(ctx, list)
}
