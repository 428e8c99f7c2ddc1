package requests

import (
	"context"
	"time"

	"crewarchive.org/internal/policy"
)

// Store is the persistence contract for the request engine. Two
// implementations exist: InMemory for tests and single-node development, and
// the Postgres store under internal/store/pg for production.
type Store interface {
	// Directory reads. The engine re-reads user records on every call and
	// never trusts levels carried in tokens or payloads.
	FindUser(ctx context.Context, id string) (User, error)
	FindUserByHandle(ctx context.Context, handle string) (User, error)
	ListUsersWithMinLevel(ctx context.Context, min policy.Level) ([]User, error)
	ListCityModerators(ctx context.Context, cityID string) ([]User, error)

	// Directory writes, applied as request effects.
	UpdateUserLevel(ctx context.Context, userID string, level policy.Level) error
	SetAllCityAccess(ctx context.Context, userID string, enabled bool) error

	// Resources and edges. AddMembership and AddRoleTag are idempotent:
	// inserting an edge that already exists succeeds without change.
	FindResource(ctx context.Context, rt ResourceType, id string) (Resource, error)
	TeamMemberIDs(ctx context.Context, rt ResourceType, id string) ([]string, error)
	AddMembership(ctx context.Context, m Membership) error
	AddRoleTag(ctx context.Context, t RoleTag) error

	// Requests. InsertRequest returns ErrDuplicatePending when a PENDING
	// request with the same dedup tuple already exists; the constraint is
	// enforced atomically by the store, never by a read-then-write in the
	// engine. TransitionRequest is a compare-and-set on status and returns
	// ErrInvalidState when the request is no longer in from.
	InsertRequest(ctx context.Context, r *Request) error
	FindRequest(ctx context.Context, id string) (Request, error)
	FindPendingDuplicate(ctx context.Context, r Request) (Request, error)
	TransitionRequest(ctx context.Context, id string, from, to Status, at time.Time) error
	ListRequestsForUser(ctx context.Context, userID string) ([]Request, error)
	ListPendingRequests(ctx context.Context) ([]Request, error)

	// Decisions and notifications.
	AppendApproval(ctx context.Context, a Approval) error
	CreateNotification(ctx context.Context, n *Notification) error
	MarkNotificationRead(ctx context.Context, id, userID string) error
	ListNotifications(ctx context.Context, userID string) ([]Notification, error)

	// MergeAccounts executes the account claim merge in a single
	// transaction: all reassignments and the source deletion commit
	// together or not at all.
	MergeAccounts(ctx context.Context, spec MergeSpec) error
}
