package requests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crewarchive.org/internal/policy"
)

// newFixture seeds a directory with one event in berlin: "creator" made it,
// "team1" is on its team, "mod-berlin" moderates the city, "admin" and
// "super" hold the top tiers, "base" is a plain user and "ghost" is an
// unclaimed profile tagged as winner.
func newFixture(t *testing.T) (*Service, *InMemory) {
	t.Helper()
	store := NewInMemory()
	now := time.Now().UTC()
	for _, u := range []User{
		{ID: "base", DisplayName: "Base", Level: policy.LevelBaseUser, Claimed: true},
		{ID: "creator", DisplayName: "Creator", Level: policy.LevelCreator, Claimed: true},
		{ID: "team1", DisplayName: "Team One", Level: policy.LevelBaseUser, Claimed: true},
		{ID: "mod-berlin", DisplayName: "Berlin Mod", Level: policy.LevelModerator, CityAssignments: []string{"berlin"}, Claimed: true},
		{ID: "admin", DisplayName: "Admin", Level: policy.LevelAdmin, Claimed: true},
		{ID: "super", DisplayName: "Super", Level: policy.LevelSuperAdmin, Claimed: true},
		{ID: "ghost", DisplayName: "Ghost", Level: policy.LevelBaseUser, InstagramHandle: "ghost_handle"},
	} {
		u.CreatedAt = now
		u.UpdatedAt = now
		store.PutUser(u)
	}
	store.PutResource(Resource{Type: ResourceEvent, ID: "e1", Title: "Summer Jam", CreatorID: "creator", CityID: "berlin", CreatedAt: now})

	ctx := context.Background()
	if err := store.AddMembership(ctx, Membership{ResourceType: ResourceEvent, ResourceID: "e1", UserID: "team1", Relation: RelationTeamMember, CreatedAt: now}); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	if err := store.AddRoleTag(ctx, RoleTag{ResourceType: ResourceEvent, ResourceID: "e1", UserID: "ghost", Role: "winner", CreatedAt: now}); err != nil {
		t.Fatalf("seed role tag: %v", err)
	}

	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func mustPending(t *testing.T, out Outcome, err error) Request {
	t.Helper()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.Applied || out.AlreadyPending || out.Request == nil {
		t.Fatalf("expected a new pending request, got %+v", out)
	}
	if out.Request.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", out.Request.Status)
	}
	return *out.Request
}

func pending(t *testing.T, svc *Service, ctx context.Context, actor Actor, in CreateInput) Request {
	t.Helper()
	out, err := svc.CreateRequest(ctx, actor, in)
	return mustPending(t, out, err)
}

func taggingInput(role string) CreateInput {
	return CreateInput{Payload: TaggingPayload{ResourceType: ResourceEvent, ResourceID: "e1", Role: role}}
}

func TestCreateRecordsPendingForBaseUser(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	req := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))
	if req.SenderID != "base" || req.TargetUserID != "base" {
		t.Fatalf("unexpected participants: %+v", req)
	}
	if store.HasRoleTag(ResourceEvent, "e1", "base", "winner") {
		t.Fatal("effect must not apply before approval")
	}

	// Approvers were notified durably.
	got, err := svc.Notifications(ctx, Actor{UserID: "creator"})
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(got) != 1 || got[0].Kind != NotificationRequestSubmitted || got[0].RelatedRequestID != req.ID {
		t.Fatalf("unexpected approver notifications: %+v", got)
	}
}

func TestCreateAppliesDirectlyForCreator(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	out, err := svc.CreateRequest(ctx, Actor{UserID: "creator"}, taggingInput("organizer"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !out.Applied || out.Request != nil {
		t.Fatalf("expected direct application, got %+v", out)
	}
	if !store.HasRoleTag(ResourceEvent, "e1", "creator", "organizer") {
		t.Fatal("role tag missing")
	}

	// Repeating the same direct action is a no-op success.
	out, err = svc.CreateRequest(ctx, Actor{UserID: "creator"}, taggingInput("organizer"))
	if err != nil || !out.Applied {
		t.Fatalf("expected idempotent success, got %+v err=%v", out, err)
	}
}

func TestCreateTagsAnotherUserWhenModerator(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	in := taggingInput("judge")
	in.TargetUserID = "ghost"
	out, err := svc.CreateRequest(ctx, Actor{UserID: "mod-berlin"}, in)
	if err != nil || !out.Applied {
		t.Fatalf("expected direct application, got %+v err=%v", out, err)
	}
	if !store.HasRoleTag(ResourceEvent, "e1", "ghost", "judge") {
		t.Fatal("role tag missing for target")
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	if _, err := svc.CreateRequest(ctx, Actor{}, taggingInput("winner")); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := svc.CreateRequest(ctx, Actor{UserID: "nobody"}, taggingInput("winner")); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for unknown user, got %v", err)
	}
	if _, err := svc.CreateRequest(ctx, Actor{UserID: "base"}, CreateInput{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for nil payload, got %v", err)
	}
	in := CreateInput{Payload: TaggingPayload{ResourceType: ResourceEvent, ResourceID: "missing", Role: "winner"}}
	if _, err := svc.CreateRequest(ctx, Actor{UserID: "base"}, in); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for unknown resource, got %v", err)
	}
}

func TestDuplicatePendingReturnsExisting(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	first := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))

	out, err := svc.CreateRequest(ctx, Actor{UserID: "base"}, taggingInput("winner"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !out.AlreadyPending || out.Request == nil || out.Request.ID != first.ID {
		t.Fatalf("expected existing pending request %s, got %+v", first.ID, out)
	}

	// A different role is a different tuple.
	second := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("judge"))
	if second.ID == first.ID {
		t.Fatal("distinct tuples must create distinct requests")
	}
}

func TestConcurrentCreatesInsertOnce(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	const n = 16
	seen := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.CreateRequest(ctx, Actor{UserID: "base"}, taggingInput("winner"))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			seen <- out.Request.ID
		}()
	}
	wg.Wait()
	close(seen)

	distinct := make(map[string]struct{})
	for id := range seen {
		distinct[id] = struct{}{}
	}
	if len(distinct) != 1 {
		t.Fatalf("expected one request id, got %d", len(distinct))
	}
	pending, err := store.ListPendingRequests(ctx)
	if err != nil {
		t.Fatalf("ListPendingRequests: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending row, got %d", len(pending))
	}
}

func TestApproveAppliesEffect(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	req := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))

	decided, err := svc.Approve(ctx, req.ID, Actor{UserID: "creator"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if decided.Status != StatusApproved {
		t.Fatalf("expected APPROVED, got %s", decided.Status)
	}
	if !store.HasRoleTag(ResourceEvent, "e1", "base", "winner") {
		t.Fatal("effect not applied")
	}

	approvals := store.Approvals()
	if len(approvals) != 1 || !approvals[0].Approved || approvals[0].ApproverID != "creator" || approvals[0].RequestID != req.ID {
		t.Fatalf("unexpected approvals: %+v", approvals)
	}

	got, err := svc.Notifications(ctx, Actor{UserID: "base"})
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(got) != 1 || got[0].Kind != NotificationRequestApproved {
		t.Fatalf("sender not notified of approval: %+v", got)
	}

	// Terminal requests reject further decisions and produce no extra
	// approval records.
	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "admin"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.Deny(ctx, req.ID, Actor{UserID: "admin"}, "late"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if len(store.Approvals()) != 1 {
		t.Fatal("terminal request must not accrue approvals")
	}
}

func TestDenyCarriesMessage(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	req := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))

	decided, err := svc.Deny(ctx, req.ID, Actor{UserID: "mod-berlin"}, "not at this event")
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if decided.Status != StatusDenied {
		t.Fatalf("expected DENIED, got %s", decided.Status)
	}
	if store.HasRoleTag(ResourceEvent, "e1", "base", "winner") {
		t.Fatal("denied request must not apply its effect")
	}

	approvals := store.Approvals()
	if len(approvals) != 1 || approvals[0].Approved || approvals[0].Message != "not at this event" {
		t.Fatalf("unexpected approvals: %+v", approvals)
	}
	got, err := svc.Notifications(ctx, Actor{UserID: "base"})
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(got) != 1 || got[0].Kind != NotificationRequestDenied || got[0].Message != "not at this event" {
		t.Fatalf("denial message lost: %+v", got)
	}
}

func TestApproverCheckedAtDecisionTime(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	req := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))

	// The berlin moderator loses the city between create and decide.
	mod, err := store.FindUser(ctx, "mod-berlin")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	mod.CityAssignments = nil
	store.PutUser(mod)

	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "mod-berlin"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden after losing the city, got %v", err)
	}
	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "team1"}); err != nil {
		t.Fatalf("team member should still approve: %v", err)
	}
}

func TestSenderCannotDecideOwnRequest(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	req := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))
	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "base"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Deny(ctx, req.ID, Actor{UserID: "base"}, "no"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCancelOnlyBySender(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	req := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))

	if _, err := svc.Cancel(ctx, req.ID, Actor{UserID: "creator"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-sender, got %v", err)
	}
	cancelled, err := svc.Cancel(ctx, req.ID, Actor{UserID: "base"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if len(store.Approvals()) != 0 {
		t.Fatal("cancellation must not write an approval record")
	}
	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "admin"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after cancel, got %v", err)
	}

	// The tuple is free again once the pending request is gone.
	pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))
}

func TestAuthLevelChangeLifecycle(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	out, err := svc.CreateRequest(ctx, Actor{UserID: "base"}, CreateInput{
		Payload: AuthLevelChangePayload{RequestedLevel: policy.LevelCreator},
	})
	req := mustPending(t, out, err)

	// Only admins decide level changes.
	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "mod-berlin"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for moderator, got %v", err)
	}
	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "admin"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	u, err := store.FindUser(ctx, "base")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if u.Level != policy.LevelCreator {
		t.Fatalf("level not applied: %v", u.Level)
	}

	// Downgrades are rejected at create time.
	_, err = svc.CreateRequest(ctx, Actor{UserID: "creator"}, CreateInput{
		Payload: AuthLevelChangePayload{RequestedLevel: policy.LevelBaseUser},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for downgrade, got %v", err)
	}

	// Admins change levels directly, including for others.
	direct, err := svc.CreateRequest(ctx, Actor{UserID: "admin"}, CreateInput{
		TargetUserID: "team1",
		Payload:      AuthLevelChangePayload{RequestedLevel: policy.LevelModerator},
	})
	if err != nil || !direct.Applied {
		t.Fatalf("expected direct application, got %+v err=%v", direct, err)
	}
}

func TestGlobalAccessLifecycle(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	out, err := svc.CreateRequest(ctx, Actor{UserID: "mod-berlin"}, CreateInput{Payload: GlobalAccessPayload{}})
	req := mustPending(t, out, err)

	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "admin"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	u, err := store.FindUser(ctx, "mod-berlin")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if !u.AllCityAccess {
		t.Fatal("all-city access not applied")
	}

	// Requesting again is an idempotent success, not a new request.
	again, err := svc.CreateRequest(ctx, Actor{UserID: "mod-berlin"}, CreateInput{Payload: GlobalAccessPayload{}})
	if err != nil || !again.Applied {
		t.Fatalf("expected idempotent success, got %+v err=%v", again, err)
	}
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	req := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.Approve(ctx, req.ID, Actor{UserID: "creator"})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.Deny(ctx, req.ID, Actor{UserID: "admin"}, "race")
	}()
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrInvalidState):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("expected exactly one winner, got won=%d lost=%d", won, lost)
	}
	if got := len(store.Approvals()); got != 1 {
		t.Fatalf("expected one approval record, got %d", got)
	}
	final, err := store.FindRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("FindRequest: %v", err)
	}
	if !final.Status.Terminal() {
		t.Fatalf("request not terminal: %s", final.Status)
	}
}

func claimInput(handle string) CreateInput {
	return CreateInput{Payload: AccountClaimPayload{InstagramHandle: handle, TagCount: 1}}
}

func TestAccountClaimLifecycle(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	out, err := svc.CreateRequest(ctx, Actor{UserID: "base", Verified: true}, claimInput("ghost_handle"))
	req := mustPending(t, out, err)
	if req.SenderID != "ghost" || req.TargetUserID != "base" {
		t.Fatalf("unexpected claim participants: %+v", req)
	}

	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "admin"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// Ghost absorbed: tags moved, handle transferred, profile deleted.
	if _, err := store.FindUser(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ghost should be gone, got %v", err)
	}
	u, err := store.FindUser(ctx, "base")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if !u.Claimed || u.InstagramHandle != "ghost_handle" {
		t.Fatalf("claim not recorded on target: %+v", u)
	}
	if !store.HasRoleTag(ResourceEvent, "e1", "base", "winner") {
		t.Fatal("ghost's tag not reassigned")
	}

	// The request row went with the ghost; the approval survives.
	if _, err := store.FindRequest(ctx, req.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("request row should be cascade-deleted, got %v", err)
	}
	approvals := store.Approvals()
	if len(approvals) != 1 || approvals[0].RequestID != req.ID || !approvals[0].Approved {
		t.Fatalf("approval record lost: %+v", approvals)
	}

	// The claimer keeps a notification committed before the merge.
	got, err := svc.Notifications(ctx, Actor{UserID: "base"})
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(got) != 1 || got[0].Kind != NotificationRequestApproved {
		t.Fatalf("claimer not notified: %+v", got)
	}
}

func TestAccountClaimWipesRelationships(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	out, err := svc.CreateRequest(ctx, Actor{UserID: "base", Verified: true}, CreateInput{
		Payload: AccountClaimPayload{InstagramHandle: "ghost_handle", TagCount: 1, WipeRelationships: true},
	})
	req := mustPending(t, out, err)
	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "admin"}); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if store.HasRoleTag(ResourceEvent, "e1", "base", "winner") {
		t.Fatal("wiped tag must not be reassigned")
	}
}

func TestAccountClaimMergeFailureLeavesDirectoryIntact(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	out, err := svc.CreateRequest(ctx, Actor{UserID: "base", Verified: true}, claimInput("ghost_handle"))
	req := mustPending(t, out, err)

	store.SetMergeFailpoint(func(MergeSpec) error { return errors.New("disk on fire") })
	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "admin"}); !errors.Is(err, ErrMergeFailed) {
		t.Fatalf("expected ErrMergeFailed, got %v", err)
	}

	// The decision stands, the directory does not change.
	final, err := store.FindRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("FindRequest: %v", err)
	}
	if final.Status != StatusApproved {
		t.Fatalf("expected APPROVED, got %s", final.Status)
	}
	if len(store.Approvals()) != 1 {
		t.Fatal("approval record missing")
	}
	ghost, err := store.FindUser(ctx, "ghost")
	if err != nil {
		t.Fatalf("ghost must survive a failed merge: %v", err)
	}
	if ghost.Claimed {
		t.Fatal("ghost must remain unclaimed")
	}
	if !store.HasRoleTag(ResourceEvent, "e1", "ghost", "winner") {
		t.Fatal("ghost's tag must remain")
	}
	u, err := store.FindUser(ctx, "base")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if u.Claimed || u.InstagramHandle != "" {
		t.Fatalf("target must be untouched: %+v", u)
	}
}

func TestAccountClaimRequiresVerifiedAccount(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	if _, err := svc.CreateRequest(ctx, Actor{UserID: "base"}, claimInput("ghost_handle")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for unverified claimer, got %v", err)
	}
}

func TestAccountClaimRejectsUnknownOrClaimedHandle(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	if _, err := svc.CreateRequest(ctx, Actor{UserID: "base", Verified: true}, claimInput("nobody_here")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for unknown handle, got %v", err)
	}

	ghost, err := store.FindUser(ctx, "ghost")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	ghost.Claimed = true
	store.PutUser(ghost)
	if _, err := svc.CreateRequest(ctx, Actor{UserID: "base", Verified: true}, claimInput("ghost_handle")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for claimed handle, got %v", err)
	}
}

func TestAccountClaimCannotRemoveSuperAdmin(t *testing.T) {
	svc, store := newFixture(t)
	ctx := context.Background()

	store.PutUser(User{ID: "sa-ghost", Level: policy.LevelSuperAdmin, InstagramHandle: "sa_handle"})

	out, err := svc.CreateRequest(ctx, Actor{UserID: "base", Verified: true}, claimInput("sa_handle"))
	req := mustPending(t, out, err)
	if _, err := svc.Approve(ctx, req.ID, Actor{UserID: "admin"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for super admin target, got %v", err)
	}
	if _, err := store.FindUser(ctx, "sa-ghost"); err != nil {
		t.Fatalf("profile must survive: %v", err)
	}
}

func TestAccountClaimCancelledByClaimer(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	out, err := svc.CreateRequest(ctx, Actor{UserID: "base", Verified: true}, claimInput("ghost_handle"))
	req := mustPending(t, out, err)

	if _, err := svc.Cancel(ctx, req.ID, Actor{UserID: "creator"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	cancelled, err := svc.Cancel(ctx, req.ID, Actor{UserID: "base"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
}

func TestListMineAndAwaiting(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	req := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))
	claim := pending(t, svc, ctx, Actor{UserID: "base", Verified: true}, claimInput("ghost_handle"))

	mine, err := svc.ListMine(ctx, Actor{UserID: "base"})
	if err != nil {
		t.Fatalf("ListMine: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 requests (own + claim as target), got %d", len(mine))
	}
	ids := map[string]bool{mine[0].ID: true, mine[1].ID: true}
	if !ids[req.ID] || !ids[claim.ID] {
		t.Fatalf("ListMine missing entries: %+v", mine)
	}

	awaiting, err := svc.ListAwaiting(ctx, Actor{UserID: "creator"})
	if err != nil {
		t.Fatalf("ListAwaiting: %v", err)
	}
	if len(awaiting) != 1 || awaiting[0].ID != req.ID {
		t.Fatalf("creator should see only the tagging request: %+v", awaiting)
	}

	awaiting, err = svc.ListAwaiting(ctx, Actor{UserID: "admin"})
	if err != nil {
		t.Fatalf("ListAwaiting: %v", err)
	}
	if len(awaiting) != 2 {
		t.Fatalf("admin should see both, got %d", len(awaiting))
	}

	// The claimer never reviews the own claim.
	awaiting, err = svc.ListAwaiting(ctx, Actor{UserID: "base"})
	if err != nil {
		t.Fatalf("ListAwaiting: %v", err)
	}
	if len(awaiting) != 0 {
		t.Fatalf("sender must not await own requests: %+v", awaiting)
	}
}

func TestGetRequestVisibility(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	req := pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))

	if _, err := svc.GetRequest(ctx, req.ID, Actor{UserID: "base"}); err != nil {
		t.Fatalf("sender read: %v", err)
	}
	if _, err := svc.GetRequest(ctx, req.ID, Actor{UserID: "creator"}); err != nil {
		t.Fatalf("approver read: %v", err)
	}
	if _, err := svc.GetRequest(ctx, req.ID, Actor{UserID: "ghost"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for bystander, got %v", err)
	}
	if _, err := svc.GetRequest(ctx, "missing", Actor{UserID: "base"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotificationReadFlow(t *testing.T) {
	svc, _ := newFixture(t)
	ctx := context.Background()

	pending(t, svc, ctx, Actor{UserID: "base"}, taggingInput("winner"))

	got, err := svc.Notifications(ctx, Actor{UserID: "admin"})
	if err != nil || len(got) != 1 {
		t.Fatalf("admin notifications: %+v err=%v", got, err)
	}
	if got[0].IsOld {
		t.Fatal("fresh notification must be unread")
	}

	// Only the recipient can mark it.
	if err := svc.MarkNotificationRead(ctx, got[0].ID, Actor{UserID: "base"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign notification, got %v", err)
	}
	if err := svc.MarkNotificationRead(ctx, got[0].ID, Actor{UserID: "admin"}); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	got, err = svc.Notifications(ctx, Actor{UserID: "admin"})
	if err != nil || len(got) != 1 || !got[0].IsOld {
		t.Fatalf("notification not marked read: %+v err=%v", got, err)
	}
}
