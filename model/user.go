package model

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// ErrInvalidUserID is returned for user ids shorter than MinUserIDLength.
var ErrInvalidUserID = errors.New("model: invalid user id")

// MinUserIDLength is the shortest accepted user id.
const MinUserIDLength = 5

// ValidateUserID checks that id is long enough to be a user id.
func ValidateUserID(id string) error {
	if len(id) < MinUserIDLength {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, id)
	}
	return nil
}

// Role is a member's permission inside a team.
type Role string

// Roles.
const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleViewer  Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleViewer:
		return true
	}
	return false
}

// Membership is a team entry in User.TeamsMembership, keyed by team id.
type Membership struct {
	ID         string `dynamodbav:"id"`
	Name       string `dynamodbav:"name"`
	Permission Role   `dynamodbav:"permission"`
}

// User is the stored users/{userId} record.
type User struct {
	UserID              string                `dynamodbav:"userId"`
	Email               string                `dynamodbav:"email"`
	DisplayName         string                `dynamodbav:"displayName"`
	DefaultTeam         string                `dynamodbav:"defaultTeam"`
	Created             time.Time             `dynamodbav:"created"`
	TeamsMembership     map[string]Membership `dynamodbav:"teamsMembership"`
	RefreshToken        string                `dynamodbav:"refreshToken"`
	RefreshTokenAddedAt time.Time             `dynamodbav:"refreshTokenAddedAt"`
}

// UserPatch lists the User fields a caller may change.
// Nil fields keep the current value.
type UserPatch struct {
	Email           *string
	DisplayName     *string
	DefaultTeam     *string
	TeamsMembership map[string]Membership
	RefreshToken    *string
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.TeamsMembership = maps.Clone(u.TeamsMembership)
	if out.TeamsMembership == nil {
		out.TeamsMembership = map[string]Membership{}
	}
	return &out
}

// Merge returns a new snapshot with p applied. Setting a refresh token stamps
// RefreshTokenAddedAt with now.
func (u *User) Merge(p UserPatch, now time.Time) *User {
	out := u.Clone()
	setIf(&out.Email, p.Email)
	setIf(&out.DisplayName, p.DisplayName)
	setIf(&out.DefaultTeam, p.DefaultTeam)
	if p.TeamsMembership != nil {
		out.TeamsMembership = maps.Clone(p.TeamsMembership)
	}
	if p.RefreshToken != nil && *p.RefreshToken != u.RefreshToken {
		out.RefreshToken = *p.RefreshToken
		out.RefreshTokenAddedAt = now
	}
	return out
}

// WithMembership returns a copy of u's membership map with team added or replaced.
func (u *User) WithMembership(team *Team, role Role) map[string]Membership {
	out := maps.Clone(u.TeamsMembership)
	if out == nil {
		out = map[string]Membership{}
	}
	out[team.TeamID] = Membership{ID: team.TeamID, Name: team.Name, Permission: role}
	return out
}
