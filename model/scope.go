package model

// ScopeKind identifies who a Customer or Campaign view belongs to.
type ScopeKind int

const (
	// ScopeNone marks a record that was not loaded through a session.
	ScopeNone ScopeKind = iota
	// ScopeTeam marks the canonical, team-owned view.
	ScopeTeam
	// ScopeUser marks a user's mirrored view under users/{userId}.
	ScopeUser
)

// String implements fmt.Stringer.
func (k ScopeKind) String() string {
	switch k {
	case ScopeTeam:
		return "team"
	case ScopeUser:
		return "user"
	default:
		return "none"
	}
}

// Scope tags a record with its ownership context. It decides which relations
// may be queried from the record and is never persisted.
type Scope struct {
	Kind   ScopeKind
	TeamID string
	UserID string
}

// TeamScope returns the scope of records owned by teamID.
func TeamScope(teamID string) Scope {
	return Scope{Kind: ScopeTeam, TeamID: teamID}
}

// UserScope returns the scope of records mirrored for userID.
func UserScope(userID string) Scope {
	return Scope{Kind: ScopeUser, UserID: userID}
}

// CanQueryTeamRelations reports whether team settings and team campaign
// queries are valid for a record in this scope.
func (s Scope) CanQueryTeamRelations() bool {
	return s.Kind == ScopeTeam && s.TeamID != ""
}

// CanQueryUserRelations reports whether the user's mirrored collections may be
// queried for a record in this scope.
func (s Scope) CanQueryUserRelations() bool {
	return s.Kind == ScopeUser && s.UserID != ""
}
