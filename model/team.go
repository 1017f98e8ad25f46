package model

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// Member is a team member entry, keyed by user id in Team.Members.
type Member struct {
	ID          string `dynamodbav:"id"`
	Email       string `dynamodbav:"email"`
	DisplayName string `dynamodbav:"displayName"`
	Permission  Role   `dynamodbav:"permission"`
}

// CampaignsByCustomer maps a customer id to the ordered campaign ids added for it.
type CampaignsByCustomer map[string][]string

// Clone returns a deep copy. A nil map clones to an empty one.
func (c CampaignsByCustomer) Clone() CampaignsByCustomer {
	out := make(CampaignsByCustomer, len(c))
	for customerID, campaignIDs := range c {
		out[customerID] = slices.Clone(campaignIDs)
		if out[customerID] == nil {
			out[customerID] = []string{}
		}
	}
	return out
}

// Count returns the number of campaign ids across all customers.
func (c CampaignsByCustomer) Count() int {
	n := 0
	for _, campaignIDs := range c {
		n += len(campaignIDs)
	}
	return n
}

// Has reports whether customerID is a key of the map.
func (c CampaignsByCustomer) Has(customerID string) bool {
	_, ok := c[customerID]
	return ok
}

// Add appends campaignID to customerID's list unless already present.
// It reports whether the map changed.
func (c CampaignsByCustomer) Add(customerID, campaignID string) bool {
	if slices.Contains(c[customerID], campaignID) {
		return false
	}
	c[customerID] = append(c[customerID], campaignID)
	return true
}

// Remove drops campaignID from customerID's list and deletes the customer key
// once its list is empty. It reports whether the campaign was present.
func (c CampaignsByCustomer) Remove(customerID, campaignID string) bool {
	campaignIDs, ok := c[customerID]
	if !ok {
		return false
	}
	i := slices.Index(campaignIDs, campaignID)
	if i >= 0 {
		campaignIDs = slices.Delete(slices.Clone(campaignIDs), i, i+1)
	}
	if len(campaignIDs) == 0 {
		delete(c, customerID)
	} else {
		c[customerID] = campaignIDs
	}
	return i >= 0
}

// CustomerIDs returns the map keys in sorted order.
func (c CampaignsByCustomer) CustomerIDs() []string {
	ids := slices.Collect(maps.Keys(c))
	sort.Strings(ids)
	return ids
}

// Team is the stored teams/{teamId} record.
type Team struct {
	TeamID              string              `dynamodbav:"teamId"`
	Name                string              `dynamodbav:"name"`
	OwnerID             string              `dynamodbav:"ownerId"`
	Created             time.Time           `dynamodbav:"created"`
	Members             map[string]Member   `dynamodbav:"members"`
	CampaignsByCustomer CampaignsByCustomer `dynamodbav:"campaignsByCustomer"`

	// CampaignsCount is derived from CampaignsByCustomer on every Merge.
	CampaignsCount int `dynamodbav:"campaignsCount"`
}

// TeamPatch lists the authoritative Team fields a caller may change.
// Nil fields keep the current value.
type TeamPatch struct {
	Name                *string
	OwnerID             *string
	Members             map[string]Member
	CampaignsByCustomer CampaignsByCustomer
}

// Clone returns a deep copy of t.
func (t *Team) Clone() *Team {
	if t == nil {
		return nil
	}
	out := *t
	out.Members = maps.Clone(t.Members)
	if out.Members == nil {
		out.Members = map[string]Member{}
	}
	out.CampaignsByCustomer = t.CampaignsByCustomer.Clone()
	return &out
}

// Merge returns a new snapshot with p applied and CampaignsCount recomputed.
// t is not modified.
func (t *Team) Merge(p TeamPatch) *Team {
	out := t.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.OwnerID != nil {
		out.OwnerID = *p.OwnerID
	}
	if p.Members != nil {
		out.Members = maps.Clone(p.Members)
	}
	if p.CampaignsByCustomer != nil {
		out.CampaignsByCustomer = p.CampaignsByCustomer.Clone()
	}
	out.CampaignsCount = out.CampaignsByCustomer.Count()
	return out
}

// HasMember reports whether userID is a member of the team.
func (t *Team) HasMember(userID string) bool {
	_, ok := t.Members[userID]
	return ok
}

// AggregateFields returns the update fields persisting the denormalized index.
func (t *Team) AggregateFields() map[string]any {
	return map[string]any{
		"campaignsByCustomer": t.CampaignsByCustomer.Clone(),
		"campaignsCount":      t.CampaignsCount,
	}
}

// NewTeam builds the record of a freshly created team owned by owner.
func NewTeam(teamID, name string, owner *User, role Role, now time.Time) *Team {
	return &Team{
		TeamID:  teamID,
		Name:    name,
		OwnerID: owner.UserID,
		Created: now,
		Members: map[string]Member{
			owner.UserID: MemberFromUser(owner, role),
		},
		CampaignsByCustomer: CampaignsByCustomer{},
	}
}

// MemberFromUser projects u into a team member entry.
func MemberFromUser(u *User, role Role) Member {
	return Member{
		ID:          u.UserID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Permission:  role,
	}
}
