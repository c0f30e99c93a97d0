package repository

import (
	"context"

	"github.com/splax/instantiate/internal/domain"
)

// MergeRequestRepository persists the merge request ledger.
type MergeRequestRepository interface {
	UpdateMergeRequest(ctx context.Context, event domain.CanonicalEvent, status domain.MergeRequestStatus) error
	GetLastCommitSHA(ctx context.Context, projectID, mrID string) (string, error)
}

// CommentRepository remembers the bot comment posted on a merge request so it
// can be edited in place.
type CommentRepository interface {
	GetCommentID(ctx context.Context, projectID, mrID string) (string, error)
	SetCommentID(ctx context.Context, projectID, mrID, commentID string) error
}

// PortRepository stores port leases.
type PortRepository interface {
	FindLease(ctx context.Context, key domain.LeaseKey) (*domain.PortLease, error)
	// UsedPorts returns every leased external port, leaving out the lease
	// identified by exclude when it is non-nil.
	UsedPorts(ctx context.Context, exclude *domain.LeaseKey) (map[int]struct{}, error)
	InsertLease(ctx context.Context, lease domain.PortLease) error
	UpdateLeasePort(ctx context.Context, key domain.LeaseKey, externalPort int) error
	DeleteLeases(ctx context.Context, projectID, mrID string) error
	LeasesFor(ctx context.Context, projectID, mrID string) ([]domain.PortLease, error)
}

// StackRepository stores deployed stack records.
type StackRepository interface {
	SaveStack(ctx context.Context, stack domain.StackRecord) error
	GetStack(ctx context.Context, projectID, mrID string) (*domain.StackRecord, error)
	UpdateStackStatus(ctx context.Context, projectID, mrID string, status domain.StackStatus) error
	RemoveStack(ctx context.Context, projectID, mrID string) error
	ListStacks(ctx context.Context) ([]domain.StackRecord, error)
}

// Store groups every persistence capability the engine consumes.
type Store interface {
	MergeRequestRepository
	CommentRepository
	PortRepository
	StackRepository
	Ping(ctx context.Context) error
}
