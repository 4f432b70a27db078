package store

import (
	"context"
	"io"
	"time"
)

// JobStore persists Jobs with their attempts and results.
type JobStore interface {
	// CreateJob inserts a new Job in the submitted state.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns ErrNotFound for unknown ids.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// GetJobResult returns ErrNotFound until the job has succeeded.
	GetJobResult(ctx context.Context, jobID string) (*JobResult, error)

	ListJobAttempts(ctx context.Context, jobID string) ([]JobAttempt, error)

	ListJobsByStatus(ctx context.Context, status Status) ([]Job, error)

	// FindDispatchedJob returns the dispatched job whose command carried
	// messageID, or ErrNotFound.
	FindDispatchedJob(ctx context.Context, messageID string) (*Job, error)

	// StartAttempt records attempt 1 for a submitted job. A second call
	// returns ErrInvalidTransition.
	StartAttempt(ctx context.Context, jobID string, at time.Time) (*JobAttempt, error)

	// MarkDispatched moves a submitted job to dispatched.
	MarkDispatched(ctx context.Context, jobID, transport string, deadline *time.Time, at time.Time) (*Job, error)

	// CompleteJob moves a dispatched job to succeeded and stores its result
	// in the same transaction.
	CompleteJob(ctx context.Context, jobID string, result []byte, at time.Time) (*Job, error)

	// FailJob moves a non-terminal job to failed with reason.
	FailJob(ctx context.Context, jobID, reason string, at time.Time) (*Job, error)
}

// TransferStore persists Transfers.
type TransferStore interface {
	CreateTransfer(ctx context.Context, transfer *Transfer) error
	GetTransfer(ctx context.Context, transferID string) (*Transfer, error)
	ListTransfersByStatus(ctx context.Context, status Status) ([]Transfer, error)

	// UpdateTransferProgress replaces metadata and optionally advances a
	// submitted transfer to dispatched. Terminal transfers are rejected.
	UpdateTransferProgress(ctx context.Context, transferID string, meta TransferMetadata, status Status, at time.Time) (*Transfer, error)

	// FinishTransfer moves a non-terminal transfer to succeeded or failed.
	FinishTransfer(ctx context.Context, transferID string, status Status, reason string, at time.Time) (*Transfer, error)
}

// CacheStore persists inbound traffic not tied to a local job.
type CacheStore interface {
	CacheEvent(ctx context.Context, event *CachedEvent) error
	CacheMessage(ctx context.Context, message *CachedMessage) error
	ListCachedEvents(ctx context.Context, limit int) ([]CachedEvent, error)
	ListCachedMessages(ctx context.Context, limit int) ([]CachedMessage, error)
}

// AclStore persists the allow and deny sets.
type AclStore interface {
	// AddAclEntry adds identity to list, or updates its note if present.
	// Returns ErrAclOverlap when identity is in the other list.
	AddAclEntry(ctx context.Context, list AclList, identity, note string) (*AclEntry, error)
	// RemoveAclEntry deletes identity from list. ErrNotFound when absent.
	RemoveAclEntry(ctx context.Context, list AclList, identity string) error
	ListAclEntries(ctx context.Context, list AclList) ([]AclEntry, error)
	HasIdentity(ctx context.Context, list AclList, identity string) (bool, error)
	// OverlappingIdentities lists identities present in both sets.
	OverlappingIdentities(ctx context.Context) ([]string, error)
}

// ConfigStore persists configuration revisions. Revisions are append-only.
type ConfigStore interface {
	AppendConfigRevision(ctx context.Context, config string) (*ConfigRevision, error)
	LatestConfigRevision(ctx context.Context) (*ConfigRevision, error)
	ListConfigRevisions(ctx context.Context, limit int) ([]ConfigRevision, error)
}

// Store is the complete persistence interface.
type Store interface {
	JobStore
	TransferStore
	CacheStore
	AclStore
	ConfigStore

	// Sweep deletes rows older than the policy allows, measured from now.
	// A job is deleted together with its attempts and result.
	Sweep(ctx context.Context, now time.Time, policy RetentionPolicy) (SweepResult, error)

	Ping(ctx context.Context) error
	io.Closer
}
