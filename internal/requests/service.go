package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crewarchive.org/internal/ids"
	"crewarchive.org/internal/obs"
	"crewarchive.org/internal/policy"
)

// Actor is the acting principal for one engine call. Verified mirrors the
// identity provider's account verification; everything else about the actor
// is re-read from the store on every call.
type Actor struct {
	UserID   string
	Verified bool
}

// Notifier delivers a notification over a side channel (log line, push,
// mail). Delivery is best-effort; the durable copy is the store row.
type Notifier interface {
	Emit(ctx context.Context, n Notification) error
}

type noopNotifier struct{}

func (noopNotifier) Emit(context.Context, Notification) error { return nil }

// CreateInput is the transport-agnostic create call.
type CreateInput struct {
	TargetUserID string
	Message      string
	Payload      Payload
}

// Outcome is the result of a create call. Exactly one of three shapes:
// Applied (the actor held the capability, effect applied, no request row),
// AlreadyPending (an equivalent PENDING request exists, returned unchanged),
// or a new PENDING request.
type Outcome struct {
	Applied        bool     `json:"applied"`
	AlreadyPending bool     `json:"already_pending"`
	Request        *Request `json:"request,omitempty"`
}

// Service is the request lifecycle engine.
type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotifier sets the side-channel notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// NewService builds the engine on top of a store.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("requests: store is required")
	}
	s := &Service{
		store:    store,
		notifier: noopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRequest validates the input against a fresh read of the sender,
// applies the effect directly when the sender already holds the capability,
// and otherwise records a PENDING request. Duplicate pending detection is
// delegated to the store's uniqueness constraint so that concurrent creates
// cannot both insert.
func (s *Service) CreateRequest(ctx context.Context, actor Actor, in CreateInput) (Outcome, error) {
	sender, err := s.requireUser(ctx, actor.UserID)
	if err != nil {
		return Outcome{}, err
	}
	if in.Payload == nil {
		return Outcome{}, fmt.Errorf("%w: payload is required", ErrInvalidRequest)
	}

	switch p := in.Payload.(type) {
	case TaggingPayload:
		return s.createTagging(ctx, sender, in, p)
	case TeamMemberPayload:
		return s.createTeamMember(ctx, sender, in, p)
	case AuthLevelChangePayload:
		return s.createAuthLevelChange(ctx, sender, in, p)
	case GlobalAccessPayload:
		return s.createGlobalAccess(ctx, sender, in, p)
	case AccountClaimPayload:
		return s.createAccountClaim(ctx, sender, actor, in, p)
	default:
		return Outcome{}, fmt.Errorf("%w: unknown payload type", ErrInvalidRequest)
	}
}

func (s *Service) createTagging(ctx context.Context, sender User, in CreateInput, p TaggingPayload) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	res, team, err := s.loadResource(ctx, p.ResourceType, p.ResourceID)
	if err != nil {
		return Outcome{}, err
	}
	target, err := s.resolveTarget(ctx, sender, in.TargetUserID)
	if err != nil {
		return Outcome{}, err
	}

	if policy.CanActDirectly(sender.Subject(), policy.CapTagRole, policyResource(res, team)) {
		tag := RoleTag{
			ResourceType: p.ResourceType,
			ResourceID:   p.ResourceID,
			UserID:       target.ID,
			Role:         p.Role,
			CreatedAt:    s.now().UTC(),
		}
		if err := s.store.AddRoleTag(ctx, tag); err != nil {
			return Outcome{}, fmt.Errorf("add role tag: %w", err)
		}
		obs.CountRequestCreated(string(TypeTagging), "applied")
		return Outcome{Applied: true}, nil
	}

	return s.submit(ctx, Request{
		Type:         TypeTagging,
		SenderID:     sender.ID,
		TargetUserID: target.ID,
		Message:      in.Message,
		Payload:      p,
	})
}

func (s *Service) createTeamMember(ctx context.Context, sender User, in CreateInput, p TeamMemberPayload) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	res, team, err := s.loadResource(ctx, p.ResourceType, p.ResourceID)
	if err != nil {
		return Outcome{}, err
	}
	target, err := s.resolveTarget(ctx, sender, in.TargetUserID)
	if err != nil {
		return Outcome{}, err
	}

	if policy.CanActDirectly(sender.Subject(), policy.CapAssignTeam, policyResource(res, team)) {
		m := Membership{
			ResourceType: p.ResourceType,
			ResourceID:   p.ResourceID,
			UserID:       target.ID,
			Relation:     RelationTeamMember,
			CreatedAt:    s.now().UTC(),
		}
		if err := s.store.AddMembership(ctx, m); err != nil {
			return Outcome{}, fmt.Errorf("add membership: %w", err)
		}
		obs.CountRequestCreated(string(TypeTeamMember), "applied")
		return Outcome{Applied: true}, nil
	}

	return s.submit(ctx, Request{
		Type:         TypeTeamMember,
		SenderID:     sender.ID,
		TargetUserID: target.ID,
		Message:      in.Message,
		Payload:      p,
	})
}

func (s *Service) createAuthLevelChange(ctx context.Context, sender User, in CreateInput, p AuthLevelChangePayload) (Outcome, error) {
	target, err := s.resolveTarget(ctx, sender, in.TargetUserID)
	if err != nil {
		return Outcome{}, err
	}
	// The stored current level always comes from the directory, never from
	// the caller.
	p.CurrentLevel = target.Level
	if err := p.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if policy.CanAdminister(sender.Subject()) {
		if err := s.store.UpdateUserLevel(ctx, target.ID, p.RequestedLevel); err != nil {
			return Outcome{}, fmt.Errorf("update user level: %w", err)
		}
		obs.CountRequestCreated(string(TypeAuthLevelChange), "applied")
		return Outcome{Applied: true}, nil
	}
	if target.ID != sender.ID {
		return Outcome{}, fmt.Errorf("%w: only admins may request level changes for other users", ErrForbidden)
	}

	return s.submit(ctx, Request{
		Type:         TypeAuthLevelChange,
		SenderID:     sender.ID,
		TargetUserID: target.ID,
		Message:      in.Message,
		Payload:      p,
	})
}

func (s *Service) createGlobalAccess(ctx context.Context, sender User, in CreateInput, p GlobalAccessPayload) (Outcome, error) {
	target, err := s.resolveTarget(ctx, sender, in.TargetUserID)
	if err != nil {
		return Outcome{}, err
	}
	if target.AllCityAccess {
		obs.CountRequestCreated(string(TypeGlobalAccess), "applied")
		return Outcome{Applied: true}, nil
	}

	if policy.CanAdminister(sender.Subject()) {
		if err := s.store.SetAllCityAccess(ctx, target.ID, true); err != nil {
			return Outcome{}, fmt.Errorf("set all city access: %w", err)
		}
		obs.CountRequestCreated(string(TypeGlobalAccess), "applied")
		return Outcome{Applied: true}, nil
	}
	if target.ID != sender.ID {
		return Outcome{}, fmt.Errorf("%w: only admins may request access for other users", ErrForbidden)
	}

	return s.submit(ctx, Request{
		Type:         TypeGlobalAccess,
		SenderID:     sender.ID,
		TargetUserID: target.ID,
		Message:      in.Message,
		Payload:      p,
	})
}

// createAccountClaim records the claim with the ghost profile as sender and
// the claiming account as target. The merge deletes the sender, so the
// request row disappears with the ghost when the claim is approved.
func (s *Service) createAccountClaim(ctx context.Context, sender User, actor Actor, in CreateInput, p AccountClaimPayload) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !actor.Verified {
		return Outcome{}, fmt.Errorf("%w: account claims require a verified account", ErrForbidden)
	}

	ghost, err := s.store.FindUserByHandle(ctx, p.InstagramHandle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: no profile for handle %q", ErrInvalidRequest, p.InstagramHandle)
		}
		return Outcome{}, fmt.Errorf("find profile: %w", err)
	}
	if ghost.Claimed {
		return Outcome{}, fmt.Errorf("%w: handle %q is already claimed", ErrInvalidRequest, p.InstagramHandle)
	}
	if ghost.ID == sender.ID {
		return Outcome{}, fmt.Errorf("%w: cannot claim own profile", ErrInvalidRequest)
	}

	if policy.CanAdminister(sender.Subject()) && policy.CanRemoveUser(sender.Subject(), ghost.Level) {
		spec := MergeSpec{
			SourceUserID:      ghost.ID,
			TargetUserID:      sender.ID,
			InstagramHandle:   p.InstagramHandle,
			WipeRelationships: p.WipeRelationships,
		}
		if err := s.store.MergeAccounts(ctx, spec); err != nil {
			obs.CountAccountMerge("failed")
			return Outcome{}, fmt.Errorf("%w: %v", ErrMergeFailed, err)
		}
		obs.CountAccountMerge("ok")
		obs.CountRequestCreated(string(TypeAccountClaim), "applied")
		return Outcome{Applied: true}, nil
	}

	return s.submit(ctx, Request{
		Type:         TypeAccountClaim,
		SenderID:     ghost.ID,
		TargetUserID: sender.ID,
		Message:      in.Message,
		Payload:      p,
	})
}

// submit inserts the PENDING row and fans out notifications. A duplicate
// constraint hit resolves to the existing pending request.
func (s *Service) submit(ctx context.Context, req Request) (Outcome, error) {
	now := s.now().UTC()
	req.ID = ids.New()
	req.Status = StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	if err := s.store.InsertRequest(ctx, &req); err != nil {
		if errors.Is(err, ErrDuplicatePending) {
			existing, ferr := s.store.FindPendingDuplicate(ctx, req)
			if ferr == nil {
				obs.CountRequestCreated(string(req.Type), "already_pending")
				return Outcome{AlreadyPending: true, Request: &existing}, nil
			}
			// The duplicate was decided between our insert and the
			// fetch; one retry gets a clean insert or a fresh
			// duplicate.
			if errors.Is(ferr, ErrNotFound) {
				if rerr := s.store.InsertRequest(ctx, &req); rerr == nil {
					s.notifyApprovers(ctx, req)
					obs.CountRequestCreated(string(req.Type), "pending")
					return Outcome{Request: &req}, nil
				}
			}
			return Outcome{}, fmt.Errorf("resolve duplicate pending: %w", ferr)
		}
		return Outcome{}, fmt.Errorf("insert request: %w", err)
	}

	s.notifyApprovers(ctx, req)
	obs.CountRequestCreated(string(req.Type), "pending")
	return Outcome{Request: &req}, nil
}

// Approve decides the request positively. The decision capability is checked
// against a fresh read of the approver, the status transition is a
// compare-and-set, and the Approval record is committed before any effect so
// the audit trail survives even the account merge deleting the request row.
func (s *Service) Approve(ctx context.Context, requestID string, actor Actor) (Request, error) {
	req, approver, err := s.loadDecision(ctx, requestID, actor)
	if err != nil {
		return Request{}, err
	}
	ok, err := s.canDecide(ctx, approver, req)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, fmt.Errorf("%w: not an eligible approver", ErrForbidden)
	}

	var merge *MergeSpec
	if req.Type == TypeAccountClaim {
		spec, err := s.claimMergeSpec(ctx, approver, req)
		if err != nil {
			return Request{}, err
		}
		merge = &spec
	}

	now := s.now().UTC()
	if err := s.store.TransitionRequest(ctx, req.ID, StatusPending, StatusApproved, now); err != nil {
		return Request{}, err
	}
	req.Status = StatusApproved
	req.UpdatedAt = now

	approval := Approval{
		ID:          ids.New(),
		RequestType: req.Type,
		RequestID:   req.ID,
		ApproverID:  approver.ID,
		Approved:    true,
		CreatedAt:   now,
	}
	if err := s.store.AppendApproval(ctx, approval); err != nil {
		return req, fmt.Errorf("append approval: %w", err)
	}
	obs.CountRequestDecision(string(req.Type), "approved")

	// The recipient must be notified before the merge runs: the merge
	// deletes the ghost sender and with it the request row.
	s.notifyDecision(ctx, req, NotificationRequestApproved, "")

	if merge != nil {
		if err := s.store.MergeAccounts(ctx, *merge); err != nil {
			obs.CountAccountMerge("failed")
			return req, fmt.Errorf("%w: %v", ErrMergeFailed, err)
		}
		obs.CountAccountMerge("ok")
		return req, nil
	}

	if err := s.applyEffect(ctx, req); err != nil {
		return req, err
	}
	return req, nil
}

// Deny decides the request negatively. No effect is applied; the denial
// message travels to the sender inside the notification.
func (s *Service) Deny(ctx context.Context, requestID string, actor Actor, message string) (Request, error) {
	req, approver, err := s.loadDecision(ctx, requestID, actor)
	if err != nil {
		return Request{}, err
	}
	ok, err := s.canDecide(ctx, approver, req)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, fmt.Errorf("%w: not an eligible approver", ErrForbidden)
	}

	now := s.now().UTC()
	if err := s.store.TransitionRequest(ctx, req.ID, StatusPending, StatusDenied, now); err != nil {
		return Request{}, err
	}
	req.Status = StatusDenied
	req.UpdatedAt = now

	approval := Approval{
		ID:          ids.New(),
		RequestType: req.Type,
		RequestID:   req.ID,
		ApproverID:  approver.ID,
		Approved:    false,
		Message:     message,
		CreatedAt:   now,
	}
	if err := s.store.AppendApproval(ctx, approval); err != nil {
		return req, fmt.Errorf("append approval: %w", err)
	}
	obs.CountRequestDecision(string(req.Type), "denied")

	s.notifyDecision(ctx, req, NotificationRequestDenied, message)
	return req, nil
}

// Cancel withdraws a pending request. Only the originator may cancel;
// cancellation is not a decision and writes no Approval record.
func (s *Service) Cancel(ctx context.Context, requestID string, actor Actor) (Request, error) {
	if _, err := s.requireUser(ctx, actor.UserID); err != nil {
		return Request{}, err
	}
	req, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if !s.isOriginator(actor.UserID, req) {
		return Request{}, fmt.Errorf("%w: only the sender may cancel", ErrForbidden)
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}

	now := s.now().UTC()
	if err := s.store.TransitionRequest(ctx, req.ID, StatusPending, StatusCancelled, now); err != nil {
		return Request{}, err
	}
	req.Status = StatusCancelled
	req.UpdatedAt = now
	obs.CountRequestDecision(string(req.Type), "cancelled")
	return req, nil
}

// GetRequest returns the request when the actor is its originator, its
// target, or an eligible approver.
func (s *Service) GetRequest(ctx context.Context, requestID string, actor Actor) (Request, error) {
	user, err := s.requireUser(ctx, actor.UserID)
	if err != nil {
		return Request{}, err
	}
	req, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.SenderID == user.ID || req.TargetUserID == user.ID {
		return req, nil
	}
	ok, err := s.canDecide(ctx, user, req)
	if err != nil {
		return Request{}, err
	}
	if !ok {
		return Request{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	return req, nil
}

// ListMine returns every request the actor originated or is targeted by.
func (s *Service) ListMine(ctx context.Context, actor Actor) ([]Request, error) {
	user, err := s.requireUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRequestsForUser(ctx, user.ID)
}

// ListAwaiting returns the pending requests the actor could decide right now.
func (s *Service) ListAwaiting(ctx context.Context, actor Actor) ([]Request, error) {
	user, err := s.requireUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListPendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(pending))
	for _, req := range pending {
		if s.isOriginator(user.ID, req) {
			continue
		}
		ok, err := s.canDecide(ctx, user, req)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, req)
		}
	}
	return out, nil
}

// Notifications returns the actor's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, actor Actor) ([]Notification, error) {
	user, err := s.requireUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return s.store.ListNotifications(ctx, user.ID)
}

// MarkNotificationRead marks one of the actor's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, notificationID string, actor Actor) error {
	user, err := s.requireUser(ctx, actor.UserID)
	if err != nil {
		return err
	}
	return s.store.MarkNotificationRead(ctx, notificationID, user.ID)
}

func (s *Service) requireUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrNotAuthenticated
	}
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrNotAuthenticated
		}
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *Service) resolveTarget(ctx context.Context, sender User, targetID string) (User, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" || targetID == sender.ID {
		return sender, nil
	}
	target, err := s.store.FindUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, fmt.Errorf("%w: unknown target user %q", ErrInvalidRequest, targetID)
		}
		return User{}, fmt.Errorf("find target user: %w", err)
	}
	return target, nil
}

func (s *Service) loadResource(ctx context.Context, rt ResourceType, id string) (Resource, []string, error) {
	res, err := s.store.FindResource(ctx, rt, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resource{}, nil, fmt.Errorf("%w: unknown %s %q", ErrInvalidRequest, rt, id)
		}
		return Resource{}, nil, fmt.Errorf("find resource: %w", err)
	}
	team, err := s.store.TeamMemberIDs(ctx, rt, id)
	if err != nil {
		return Resource{}, nil, fmt.Errorf("list team members: %w", err)
	}
	return res, team, nil
}

func (s *Service) loadDecision(ctx context.Context, requestID string, actor Actor) (Request, User, error) {
	approver, err := s.requireUser(ctx, actor.UserID)
	if err != nil {
		return Request{}, User{}, err
	}
	req, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return Request{}, User{}, err
	}
	if req.Status != StatusPending {
		return Request{}, User{}, fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
	}
	if s.isOriginator(approver.ID, req) {
		return Request{}, User{}, fmt.Errorf("%w: cannot decide own request", ErrForbidden)
	}
	return req, approver, nil
}

// canDecide evaluates the decision capability against the approver's current
// directory record. Advisory approver sets computed at create time carry no
// weight here.
func (s *Service) canDecide(ctx context.Context, approver User, req Request) (bool, error) {
	switch p := req.Payload.(type) {
	case TaggingPayload:
		return s.canDecideResource(ctx, approver, p.ResourceType, p.ResourceID)
	case TeamMemberPayload:
		return s.canDecideResource(ctx, approver, p.ResourceType, p.ResourceID)
	default:
		return policy.CanAdminister(approver.Subject()), nil
	}
}

func (s *Service) canDecideResource(ctx context.Context, approver User, rt ResourceType, id string) (bool, error) {
	res, err := s.store.FindResource(ctx, rt, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Resource deleted after the request was created; only
			// admins can still clean up.
			return policy.CanAdminister(approver.Subject()), nil
		}
		return false, fmt.Errorf("find resource: %w", err)
	}
	team, err := s.store.TeamMemberIDs(ctx, rt, id)
	if err != nil {
		return false, fmt.Errorf("list team members: %w", err)
	}
	return policy.CanApproveResourceRequest(approver.Subject(), policyResource(res, team)), nil
}

// claimMergeSpec re-validates the claim against the current directory state
// before the decision commits.
func (s *Service) claimMergeSpec(ctx context.Context, approver User, req Request) (MergeSpec, error) {
	p, ok := req.Payload.(AccountClaimPayload)
	if !ok {
		return MergeSpec{}, fmt.Errorf("%w: malformed claim payload", ErrInvalidRequest)
	}
	ghost, err := s.store.FindUser(ctx, req.SenderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return MergeSpec{}, fmt.Errorf("%w: claimed profile no longer exists", ErrInvalidState)
		}
		return MergeSpec{}, fmt.Errorf("find claimed profile: %w", err)
	}
	if ghost.Claimed {
		return MergeSpec{}, fmt.Errorf("%w: profile was claimed elsewhere", ErrInvalidState)
	}
	if !policy.CanRemoveUser(approver.Subject(), ghost.Level) {
		return MergeSpec{}, fmt.Errorf("%w: cannot merge away this profile", ErrForbidden)
	}
	spec := MergeSpec{
		SourceUserID:      ghost.ID,
		TargetUserID:      req.TargetUserID,
		InstagramHandle:   p.InstagramHandle,
		WipeRelationships: p.WipeRelationships,
	}
	if err := spec.Validate(); err != nil {
		return MergeSpec{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return spec, nil
}

// applyEffect applies the approved request's effect. Every effect is
// idempotent, so an operator can safely re-drive a failed one.
func (s *Service) applyEffect(ctx context.Context, req Request) error {
	target := req.TargetUserID
	if target == "" {
		target = req.SenderID
	}
	switch p := req.Payload.(type) {
	case TaggingPayload:
		tag := RoleTag{
			ResourceType: p.ResourceType,
			ResourceID:   p.ResourceID,
			UserID:       target,
			Role:         p.Role,
			CreatedAt:    s.now().UTC(),
		}
		if err := s.store.AddRoleTag(ctx, tag); err != nil {
			return fmt.Errorf("add role tag: %w", err)
		}
	case TeamMemberPayload:
		m := Membership{
			ResourceType: p.ResourceType,
			ResourceID:   p.ResourceID,
			UserID:       target,
			Relation:     RelationTeamMember,
			CreatedAt:    s.now().UTC(),
		}
		if err := s.store.AddMembership(ctx, m); err != nil {
			return fmt.Errorf("add membership: %w", err)
		}
	case AuthLevelChangePayload:
		if err := s.store.UpdateUserLevel(ctx, target, p.RequestedLevel); err != nil {
			return fmt.Errorf("update user level: %w", err)
		}
	case GlobalAccessPayload:
		if err := s.store.SetAllCityAccess(ctx, target, true); err != nil {
			return fmt.Errorf("set all city access: %w", err)
		}
	default:
		return fmt.Errorf("%w: no effect for type %s", ErrInvalidRequest, req.Type)
	}
	return nil
}

// isOriginator reports whether the user initiated the request. For account
// claims the initiating principal is the target: the sender slot holds the
// ghost profile so the merge cascade removes the row.
func (s *Service) isOriginator(userID string, req Request) bool {
	if req.Type == TypeAccountClaim {
		return req.TargetUserID == userID
	}
	return req.SenderID == userID
}

func (s *Service) notifyApprovers(ctx context.Context, req Request) {
	approvers, err := s.ResolveApprovers(ctx, req)
	if err != nil {
		obs.LogRequest(map[string]any{
			"level":      "warn",
			"msg":        "resolve approvers failed",
			"request_id": req.ID,
			"error":      err.Error(),
		})
		return
	}
	title := fmt.Sprintf("New %s request awaiting review", strings.ToLower(string(req.Type)))
	for _, uid := range approvers {
		s.deliver(ctx, Notification{
			UserID:             uid,
			Kind:               NotificationRequestSubmitted,
			Title:              title,
			Message:            req.Message,
			RelatedRequestType: req.Type,
			RelatedRequestID:   req.ID,
		})
	}
}

func (s *Service) notifyDecision(ctx context.Context, req Request, kind, message string) {
	recipient := req.SenderID
	if req.Type == TypeAccountClaim {
		recipient = req.TargetUserID
	}
	verdict := "approved"
	if kind == NotificationRequestDenied {
		verdict = "denied"
	}
	s.deliver(ctx, Notification{
		UserID:             recipient,
		Kind:               kind,
		Title:              fmt.Sprintf("Your %s request was %s", strings.ToLower(string(req.Type)), verdict),
		Message:            message,
		RelatedRequestType: req.Type,
		RelatedRequestID:   req.ID,
	})
}

// deliver persists the notification and emits it on the side channel. Both
// steps are best-effort; a notification failure never fails the request
// operation that produced it.
func (s *Service) deliver(ctx context.Context, n Notification) {
	n.ID = ids.New()
	n.CreatedAt = s.now().UTC()
	if err := s.store.CreateNotification(ctx, &n); err != nil {
		obs.LogRequest(map[string]any{
			"level":   "warn",
			"msg":     "persist notification failed",
			"user_id": n.UserID,
			"error":   err.Error(),
		})
		return
	}
	if err := s.notifier.Emit(ctx, n); err != nil {
		obs.LogRequest(map[string]any{
			"level":   "warn",
			"msg":     "emit notification failed",
			"user_id": n.UserID,
			"error":   err.Error(),
		})
	}
}

func policyResource(res Resource, team []string) policy.Resource {
	return policy.Resource{
		ID:            res.ID,
		CreatorID:     res.CreatorID,
		CityID:        res.CityID,
		TeamMemberIDs: team,
	}
}
