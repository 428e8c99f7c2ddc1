// Package policy holds the pure capability predicates behind the request
// engine. Every function is total: missing or garbage context resolves to
// false, never to a panic or an error.
//
// The permission model is layered:
//   - resource ownership (creator) and team membership grant rights on one
//     resource,
//   - MODERATOR rights are scoped to assigned cities unless the all-city
//     flag is set,
//   - ADMIN and above override everything,
//   - SUPER_ADMIN is additionally immune to destructive actions, including
//     those initiated by other admins.
package policy

// Level is the ordinal authorization tier. Higher subsumes lower.
type Level int

const (
	LevelBaseUser Level = iota
	LevelCreator
	LevelModerator
	LevelAdmin
	LevelSuperAdmin
)

var levelNames = map[Level]string{
	LevelBaseUser:   "base_user",
	LevelCreator:    "creator",
	LevelModerator:  "moderator",
	LevelAdmin:      "admin",
	LevelSuperAdmin: "super_admin",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether l is one of the defined tiers.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// Capability identifies an action on a resource together with the minimum
// tier the ownership path requires for it.
type Capability struct {
	Name     string
	MinLevel Level
}

var (
	CapTagRole        = Capability{Name: "tag_role", MinLevel: LevelCreator}
	CapAssignTeam     = Capability{Name: "assign_team", MinLevel: LevelCreator}
	CapUpdateResource = Capability{Name: "update_resource", MinLevel: LevelCreator}
	CapDeleteResource = Capability{Name: "delete_resource", MinLevel: LevelModerator}
)

// Subject is the per-call snapshot of the acting user. Callers must build it
// from a fresh read at decision time; snapshots are never cached across the
// lifetime of a pending request.
type Subject struct {
	UserID          string
	Level           Level
	CityAssignments []string
	AllCityAccess   bool
}

// Resource is the minimal resource context a capability check needs. A zero
// Resource denies every resource-scoped path.
type Resource struct {
	ID            string
	CreatorID     string
	CityID        string
	TeamMemberIDs []string
}

// CanActDirectly reports whether sub may apply cap to res without a
// moderated request: resource creator at the capability's minimum tier, team
// member, city-scoped moderator, or global admin.
func CanActDirectly(sub Subject, cap Capability, res Resource) bool {
	if sub.UserID == "" {
		return false
	}
	if sub.Level >= LevelAdmin {
		return true
	}
	if res.CreatorID != "" && res.CreatorID == sub.UserID && sub.Level >= cap.MinLevel {
		return true
	}
	for _, id := range res.TeamMemberIDs {
		if id == sub.UserID {
			return true
		}
	}
	if sub.Level >= LevelModerator && cityInScope(sub, res.CityID) {
		return true
	}
	return false
}

// CanApproveResourceRequest reports whether sub may approve or deny a
// request scoped to res (tagging, team membership). The predicate is the
// direct-action check for tagging on that resource.
func CanApproveResourceRequest(sub Subject, res Resource) bool {
	return CanActDirectly(sub, CapTagRole, res)
}

// CanAdminister reports whether sub may decide administrative requests
// (auth level changes, global access, account claims).
func CanAdminister(sub Subject) bool {
	return sub.UserID != "" && sub.Level >= LevelAdmin
}

// CanRemoveUser reports whether actor may ban, delete, or merge away the
// user at targetLevel. SUPER_ADMIN targets are immune to everyone.
func CanRemoveUser(actor Subject, targetLevel Level) bool {
	if targetLevel >= LevelSuperAdmin {
		return false
	}
	return CanAdminister(actor)
}

func cityInScope(sub Subject, cityID string) bool {
	if cityID == "" {
		return false
	}
	if sub.AllCityAccess {
		return true
	}
	for _, c := range sub.CityAssignments {
		if c == cityID {
			return true
		}
	}
	return false
}
