package model

import (
	"slices"
	"time"
)

// Customer is an advertising account. The canonical record lives at
// customers/{customerId}; users keep mirrored copies under their own path.
type Customer struct {
	CustomerID      string     `dynamodbav:"customerId"`
	TeamID          string     `dynamodbav:"teamId"`
	OwnerID         string     `dynamodbav:"ownerId"`
	Name            string     `dynamodbav:"name"`
	Currency        string     `dynamodbav:"currency"`
	TimeZone        string     `dynamodbav:"timeZone"`
	ResourceName    string     `dynamodbav:"resourceName"`
	LoginCustomerID string     `dynamodbav:"loginCustomerId"`
	Level           int        `dynamodbav:"level"`
	IsManager       bool       `dynamodbav:"isManager"`
	ManagerIDs      []string   `dynamodbav:"managerIds"`
	ManagerCount    int        `dynamodbav:"managerCount"`
	LastUpdated     *time.Time `dynamodbav:"lastUpdated,omitempty"`

	Scope Scope `dynamodbav:"-"`
}

// CustomerPatch lists the Customer fields a caller may change.
// Nil fields keep the current value.
type CustomerPatch struct {
	TeamID          *string
	OwnerID         *string
	Name            *string
	Currency        *string
	TimeZone        *string
	ResourceName    *string
	LoginCustomerID *string
	Level           *int
	IsManager       *bool
	ManagerIDs      []string
	LastUpdated     *time.Time
}

// Clone returns a deep copy of c.
func (c *Customer) Clone() *Customer {
	if c == nil {
		return nil
	}
	out := *c
	out.ManagerIDs = slices.Clone(c.ManagerIDs)
	if c.LastUpdated != nil {
		ts := *c.LastUpdated
		out.LastUpdated = &ts
	}
	return &out
}

// Merge returns a new snapshot with p applied. ManagerCount follows ManagerIDs.
func (c *Customer) Merge(p CustomerPatch) *Customer {
	out := c.Clone()
	setIf(&out.TeamID, p.TeamID)
	setIf(&out.OwnerID, p.OwnerID)
	setIf(&out.Name, p.Name)
	setIf(&out.Currency, p.Currency)
	setIf(&out.TimeZone, p.TimeZone)
	setIf(&out.ResourceName, p.ResourceName)
	setIf(&out.LoginCustomerID, p.LoginCustomerID)
	setIf(&out.Level, p.Level)
	setIf(&out.IsManager, p.IsManager)
	if p.ManagerIDs != nil {
		out.ManagerIDs = slices.Clone(p.ManagerIDs)
		out.ManagerCount = len(p.ManagerIDs)
	}
	if p.LastUpdated != nil {
		ts := *p.LastUpdated
		out.LastUpdated = &ts
	}
	return out
}

// OwnedByOtherTeam reports whether the customer belongs to a team other than teamID.
// A customer with an empty TeamID is unowned.
func (c *Customer) OwnedByOtherTeam(teamID string) bool {
	return c.TeamID != "" && c.TeamID != teamID
}

// ForTeam projects c into the canonical record owned by team.
// Managed accounts are stored as plain customers once they join a team.
func (c *Customer) ForTeam(team *Team) *Customer {
	out := c.Merge(CustomerPatch{TeamID: &team.TeamID})
	out.IsManager = false
	out.Scope = TeamScope(team.TeamID)
	return out
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
