package requests

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"crewarchive.org/internal/policy"
)

// Type enumerates the request kinds the lifecycle engine understands.
type Type string

const (
	TypeTagging         Type = "TAGGING"
	TypeTeamMember      Type = "TEAM_MEMBER"
	TypeAuthLevelChange Type = "AUTH_LEVEL_CHANGE"
	TypeGlobalAccess    Type = "GLOBAL_ACCESS"
	TypeAccountClaim    Type = "ACCOUNT_CLAIM"
)

// Valid reports whether t is a known request type.
func (t Type) Valid() bool {
	switch t {
	case TypeTagging, TypeTeamMember, TypeAuthLevelChange, TypeGlobalAccess, TypeAccountClaim:
		return true
	}
	return false
}

// Status is the request lifecycle state. APPROVED, DENIED and CANCELLED are
// terminal; a terminal request never transitions again.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusDenied    Status = "DENIED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusCancelled
}

// ResourceType enumerates archive resources a request can be scoped to.
type ResourceType string

const (
	ResourceEvent    ResourceType = "event"
	ResourceSession  ResourceType = "session"
	ResourceWorkshop ResourceType = "workshop"
)

// Valid reports whether rt is a known resource type.
func (rt ResourceType) Valid() bool {
	switch rt {
	case ResourceEvent, ResourceSession, ResourceWorkshop:
		return true
	}
	return false
}

// Relation distinguishes membership edges.
type Relation string

const (
	RelationCreator    Relation = "creator"
	RelationTeamMember Relation = "team_member"
)

// User is the engine's view of an account. Unclaimed ("ghost") profiles hold
// role tags for an Instagram handle not yet linked to a real account.
type User struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	InstagramHandle string    `json:"instagram_handle,omitempty"`
	Level           policy.Level `json:"auth_level"`
	CityAssignments []string  `json:"city_assignments,omitempty"`
	AllCityAccess   bool      `json:"all_city_access"`
	Claimed         bool      `json:"claimed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Subject builds the per-call policy snapshot for the user.
func (u User) Subject() policy.Subject {
	return policy.Subject{
		UserID:          u.ID,
		Level:           u.Level,
		CityAssignments: u.CityAssignments,
		AllCityAccess:   u.AllCityAccess,
	}
}

// Resource is the engine's view of an event, session or workshop.
type Resource struct {
	Type      ResourceType `json:"resource_type"`
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	CreatorID string       `json:"creator_id"`
	CityID    string       `json:"city_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// Membership is a creator/team edge between a user and a resource.
type Membership struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	UserID       string       `json:"user_id"`
	Relation     Relation     `json:"relation"`
	CreatedAt    time.Time    `json:"created_at"`
}

// RoleTag attaches a named role ("organizer", "winner", "judge", ...) to a
// user on one resource.
type RoleTag struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	UserID       string       `json:"user_id"`
	Role         string       `json:"role"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Payload is the type-specific part of a request, modeled as a tagged union:
// one variant per request type, validated by an exhaustive switch instead of
// a bag of optional fields.
type Payload interface {
	RequestType() Type
	Validate() error
}

// TaggingPayload asks for a role tag on a resource.
type TaggingPayload struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Role         string       `json:"role"`
}

func (p TaggingPayload) RequestType() Type { return TypeTagging }

func (p TaggingPayload) Validate() error {
	if !p.ResourceType.Valid() {
		return fmt.Errorf("unknown resource type %q", p.ResourceType)
	}
	if strings.TrimSpace(p.ResourceID) == "" {
		return errors.New("resource_id is required")
	}
	if strings.TrimSpace(p.Role) == "" {
		return errors.New("role is required")
	}
	return nil
}

// TeamMemberPayload asks for standing team membership on a resource.
type TeamMemberPayload struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
}

func (p TeamMemberPayload) RequestType() Type { return TypeTeamMember }

func (p TeamMemberPayload) Validate() error {
	if !p.ResourceType.Valid() {
		return fmt.Errorf("unknown resource type %q", p.ResourceType)
	}
	if strings.TrimSpace(p.ResourceID) == "" {
		return errors.New("resource_id is required")
	}
	return nil
}

// AuthLevelChangePayload asks for a higher authorization tier. CurrentLevel
// is filled by the engine from a fresh user read, never trusted from input.
type AuthLevelChangePayload struct {
	RequestedLevel policy.Level `json:"requested_level"`
	CurrentLevel   policy.Level `json:"current_level"`
}

func (p AuthLevelChangePayload) RequestType() Type { return TypeAuthLevelChange }

func (p AuthLevelChangePayload) Validate() error {
	if !p.RequestedLevel.Valid() {
		return fmt.Errorf("unknown auth level %d", p.RequestedLevel)
	}
	if p.RequestedLevel <= p.CurrentLevel {
		return errors.New("requested level must be above the current level")
	}
	return nil
}

// GlobalAccessPayload asks for the all-city flag.
type GlobalAccessPayload struct{}

func (p GlobalAccessPayload) RequestType() Type { return TypeGlobalAccess }

func (p GlobalAccessPayload) Validate() error { return nil }

// AccountClaimPayload asks to absorb an unclaimed profile into the claiming
// account. TagCount is a display hint; WipeRelationships discards the ghost's
// role tags instead of reassigning them.
type AccountClaimPayload struct {
	InstagramHandle   string `json:"instagram_handle"`
	TagCount          int    `json:"tag_count"`
	WipeRelationships bool   `json:"wipe_relationships"`
}

func (p AccountClaimPayload) RequestType() Type { return TypeAccountClaim }

func (p AccountClaimPayload) Validate() error {
	if strings.TrimSpace(p.InstagramHandle) == "" {
		return errors.New("instagram_handle is required")
	}
	if p.TagCount < 0 {
		return errors.New("tag_count must be >= 0")
	}
	return nil
}

// Request is the central lifecycle entity.
type Request struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	Status       Status    `json:"status"`
	SenderID     string    `json:"sender_id"`
	TargetUserID string    `json:"target_user_id,omitempty"`
	Message      string    `json:"message,omitempty"`
	Payload      Payload   `json:"payload"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// dedupKey identifies the at-most-one-pending tuple for the request. The
// Postgres store enforces the same tuple with a partial unique index; the
// in-memory store keys its pending index on this string.
func (r Request) dedupKey() string {
	parts := []string{string(r.Type), r.SenderID}
	switch p := r.Payload.(type) {
	case TaggingPayload:
		parts = append(parts, string(p.ResourceType), p.ResourceID, p.Role)
	case TeamMemberPayload:
		parts = append(parts, string(p.ResourceType), p.ResourceID)
	case AccountClaimPayload:
		parts = append(parts, p.InstagramHandle)
	}
	return strings.Join(parts, "|")
}

// Approval is the immutable audit record of one terminal approve/deny
// decision. It intentionally has no foreign key to the request: for account
// claims the request row is cascade-deleted by the merge and the audit trail
// must survive it.
type Approval struct {
	ID          string    `json:"id"`
	RequestType Type      `json:"request_type"`
	RequestID   string    `json:"request_id"`
	ApproverID  string    `json:"approver_id"`
	Approved    bool      `json:"approved"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification is a durable per-user message about request activity. Only
// the recipient mutates it, by marking it read.
type Notification struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Kind               string    `json:"kind"`
	Title              string    `json:"title"`
	Message            string    `json:"message,omitempty"`
	RelatedRequestType Type      `json:"related_request_type,omitempty"`
	RelatedRequestID   string    `json:"related_request_id,omitempty"`
	IsOld              bool      `json:"is_old"`
	CreatedAt          time.Time `json:"created_at"`
}

// Notification kinds emitted by the engine.
const (
	NotificationRequestSubmitted = "request_submitted"
	NotificationRequestApproved  = "request_approved"
	NotificationRequestDenied    = "request_denied"
)
