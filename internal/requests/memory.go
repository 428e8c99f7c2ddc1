package requests

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"crewarchive.org/internal/policy"
)

// InMemory is a mutex-guarded Store for tests and single-node development.
// It enforces the same constraints as the Postgres store: at most one
// pending request per dedup tuple, foreign keys on edges, and an atomic
// merge.
type InMemory struct {
	mu            sync.Mutex
	users         map[string]User
	resources     map[string]Resource
	memberships   map[string]Membership
	roleTags      map[string]RoleTag
	requests      map[string]Request
	pending       map[string]string
	approvals     []Approval
	notifications map[string]Notification

	mergeFailpoint func(spec MergeSpec) error
}

var _ Store = (*InMemory)(nil)

// NewInMemory builds an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:         make(map[string]User),
		resources:     make(map[string]Resource),
		memberships:   make(map[string]Membership),
		roleTags:      make(map[string]RoleTag),
		requests:      make(map[string]Request),
		pending:       make(map[string]string),
		notifications: make(map[string]Notification),
	}
}

func resKey(rt ResourceType, id string) string { return string(rt) + "|" + id }

func memKey(m Membership) string {
	return strings.Join([]string{string(m.ResourceType), m.ResourceID, m.UserID, string(m.Relation)}, "|")
}

func tagKey(t RoleTag) string {
	return strings.Join([]string{string(t.ResourceType), t.ResourceID, t.UserID, t.Role}, "|")
}

// PutUser inserts or replaces a user record. Seed helper.
func (s *InMemory) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutResource inserts or replaces a resource and its creator membership.
// Seed helper.
func (s *InMemory) PutResource(r Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[resKey(r.Type, r.ID)] = r
	if r.CreatorID != "" {
		m := Membership{ResourceType: r.Type, ResourceID: r.ID, UserID: r.CreatorID, Relation: RelationCreator, CreatedAt: r.CreatedAt}
		s.memberships[memKey(m)] = m
	}
}

// SetMergeFailpoint installs a hook invoked inside MergeAccounts before any
// mutation, to exercise rollback behavior in tests.
func (s *InMemory) SetMergeFailpoint(fn func(spec MergeSpec) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeFailpoint = fn
}

// HasRoleTag reports whether the edge exists. Test helper.
func (s *InMemory) HasRoleTag(rt ResourceType, resourceID, userID, role string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.roleTags[tagKey(RoleTag{ResourceType: rt, ResourceID: resourceID, UserID: userID, Role: role})]
	return ok
}

// HasMembership reports whether the edge exists. Test helper.
func (s *InMemory) HasMembership(rt ResourceType, resourceID, userID string, rel Relation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.memberships[memKey(Membership{ResourceType: rt, ResourceID: resourceID, UserID: userID, Relation: rel})]
	return ok
}

// Approvals returns a copy of the decision log. Test helper.
func (s *InMemory) Approvals() []Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Approval, len(s.approvals))
	copy(out, s.approvals)
	return out
}

func (s *InMemory) FindUser(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %q", ErrNotFound, id)
	}
	return u, nil
}

func (s *InMemory) FindUserByHandle(_ context.Context, handle string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle = strings.TrimSpace(handle)
	for _, u := range s.users {
		if u.InstagramHandle != "" && strings.EqualFold(u.InstagramHandle, handle) {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: handle %q", ErrNotFound, handle)
}

func (s *InMemory) ListUsersWithMinLevel(_ context.Context, min policy.Level) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []User
	for _, u := range s.users {
		if u.Level >= min {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) ListCityModerators(_ context.Context, cityID string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []User
	for _, u := range s.users {
		if u.Level < policy.LevelModerator {
			continue
		}
		if u.AllCityAccess {
			out = append(out, u)
			continue
		}
		for _, c := range u.CityAssignments {
			if c == cityID {
				out = append(out, u)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpdateUserLevel(_ context.Context, userID string, level policy.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, userID)
	}
	u.Level = level
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *InMemory) SetAllCityAccess(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, userID)
	}
	u.AllCityAccess = enabled
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *InMemory) FindResource(_ context.Context, rt ResourceType, id string) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[resKey(rt, id)]
	if !ok {
		return Resource{}, fmt.Errorf("%w: %s %q", ErrNotFound, rt, id)
	}
	return r, nil
}

func (s *InMemory) TeamMemberIDs(_ context.Context, rt ResourceType, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.memberships {
		if m.ResourceType == rt && m.ResourceID == id && m.Relation == RelationTeamMember {
			out = append(out, m.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemory) AddMembership(_ context.Context, m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[resKey(m.ResourceType, m.ResourceID)]; !ok {
		return fmt.Errorf("%w: %s %q", ErrNotFound, m.ResourceType, m.ResourceID)
	}
	if _, ok := s.users[m.UserID]; !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, m.UserID)
	}
	key := memKey(m)
	if _, ok := s.memberships[key]; ok {
		return nil
	}
	s.memberships[key] = m
	return nil
}

func (s *InMemory) AddRoleTag(_ context.Context, t RoleTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[resKey(t.ResourceType, t.ResourceID)]; !ok {
		return fmt.Errorf("%w: %s %q", ErrNotFound, t.ResourceType, t.ResourceID)
	}
	if _, ok := s.users[t.UserID]; !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, t.UserID)
	}
	key := tagKey(t)
	if _, ok := s.roleTags[key]; ok {
		return nil
	}
	s.roleTags[key] = t
	return nil
}

func (s *InMemory) InsertRequest(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.dedupKey()
	if _, ok := s.pending[key]; ok {
		return ErrDuplicatePending
	}
	s.requests[r.ID] = *r
	s.pending[key] = r.ID
	return nil
}

func (s *InMemory) FindRequest(_ context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: request %q", ErrNotFound, id)
	}
	return r, nil
}

func (s *InMemory) FindPendingDuplicate(_ context.Context, r Request) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pending[r.dedupKey()]
	if !ok {
		return Request{}, fmt.Errorf("%w: no pending duplicate", ErrNotFound)
	}
	return s.requests[id], nil
}

func (s *InMemory) TransitionRequest(_ context.Context, id string, from, to Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("%w: request %q", ErrNotFound, id)
	}
	if r.Status != from {
		return fmt.Errorf("%w: request is %s", ErrInvalidState, r.Status)
	}
	r.Status = to
	r.UpdatedAt = at
	s.requests[id] = r
	if from == StatusPending && to != StatusPending {
		delete(s.pending, r.dedupKey())
	}
	return nil
}

func (s *InMemory) ListRequestsForUser(_ context.Context, userID string) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.SenderID == userID || r.TargetUserID == userID {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *InMemory) ListPendingRequests(_ context.Context) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out, nil
}

func sortRequests(rs []Request) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func (s *InMemory) AppendApproval(_ context.Context, a Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals = append(s.approvals, a)
	return nil
}

func (s *InMemory) CreateNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[n.UserID]; !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, n.UserID)
	}
	s.notifications[n.ID] = *n
	return nil
}

func (s *InMemory) MarkNotificationRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("%w: notification %q", ErrNotFound, id)
	}
	n.IsOld = true
	s.notifications[id] = n
	return nil
}

func (s *InMemory) ListNotifications(_ context.Context, userID string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MergeAccounts validates everything first, runs the failpoint if installed,
// and only then mutates. Holding the mutex for the whole call gives the same
// all-or-nothing behavior the Postgres store gets from its transaction.
func (s *InMemory) MergeAccounts(_ context.Context, spec MergeSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := spec.Validate(); err != nil {
		return err
	}
	source, ok := s.users[spec.SourceUserID]
	if !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, spec.SourceUserID)
	}
	target, ok := s.users[spec.TargetUserID]
	if !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, spec.TargetUserID)
	}
	if source.Claimed {
		return fmt.Errorf("%w: profile already claimed", ErrInvalidState)
	}
	if !strings.EqualFold(source.InstagramHandle, spec.InstagramHandle) {
		return fmt.Errorf("%w: handle mismatch", ErrInvalidState)
	}

	if s.mergeFailpoint != nil {
		if err := s.mergeFailpoint(spec); err != nil {
			return err
		}
	}

	for key, t := range s.roleTags {
		if t.UserID != source.ID {
			continue
		}
		delete(s.roleTags, key)
		if spec.WipeRelationships {
			continue
		}
		t.UserID = target.ID
		s.roleTags[tagKey(t)] = t
	}

	for key, m := range s.memberships {
		if m.UserID != source.ID {
			continue
		}
		delete(s.memberships, key)
		m.UserID = target.ID
		s.memberships[memKey(m)] = m
	}

	for key, r := range s.resources {
		if r.CreatorID == source.ID {
			r.CreatorID = target.ID
			s.resources[key] = r
		}
	}

	for id, r := range s.requests {
		if r.SenderID == source.ID {
			if r.Status == StatusPending {
				delete(s.pending, r.dedupKey())
			}
			delete(s.requests, id)
			continue
		}
		if r.TargetUserID == source.ID {
			r.TargetUserID = target.ID
			s.requests[id] = r
		}
	}

	for id, n := range s.notifications {
		if n.UserID == source.ID {
			delete(s.notifications, id)
		}
	}

	target.InstagramHandle = source.InstagramHandle
	target.Claimed = true
	target.UpdatedAt = time.Now().UTC()
	s.users[target.ID] = target
	delete(s.users, source.ID)
	return nil
}
