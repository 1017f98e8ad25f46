package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CampaignStatus is the serving status of a campaign.
type CampaignStatus string

// Campaign statuses.
const (
	CampaignEnabled     CampaignStatus = "ENABLED"
	CampaignPaused      CampaignStatus = "PAUSED"
	CampaignRemoved     CampaignStatus = "REMOVED"
	CampaignUnknown     CampaignStatus = "UNKNOWN"
	CampaignUnspecified CampaignStatus = "UNSPECIFIED"
)

// ParseCampaignStatus maps s to a CampaignStatus, case-insensitively.
// Unrecognized values map to CampaignUnknown.
func ParseCampaignStatus(s string) CampaignStatus {
	switch st := CampaignStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case CampaignEnabled, CampaignPaused, CampaignRemoved, CampaignUnknown, CampaignUnspecified:
		return st
	default:
		return CampaignUnknown
	}
}

// UnmarshalDynamoDBAttributeValue decodes a stored status, normalizing unknown values.
func (s *CampaignStatus) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		*s = ParseCampaignStatus(v.Value)
	case *types.AttributeValueMemberNULL:
		*s = CampaignUnknown
	default:
		return fmt.Errorf("campaign status: unexpected attribute type %T", av)
	}
	return nil
}

// Budget is the daily budget attached to a campaign.
type Budget struct {
	AmountMicros int64  `dynamodbav:"amount_micros"`
	BudgetID     string `dynamodbav:"budgetId"`
	ResourceName string `dynamodbav:"resourceName"`
}

// Metrics are the reporting figures imported with a campaign.
type Metrics struct {
	AllConversions   float64 `dynamodbav:"allConversions"`
	AverageCPC       float64 `dynamodbav:"averageCPC"`
	Clicks           int64   `dynamodbav:"clicks"`
	CostMicros       int64   `dynamodbav:"costMicros"`
	Impressions      int64   `dynamodbav:"impressions"`
	XDaysAverageCost float64 `dynamodbav:"xDaysAverageCost"`
}

// Campaign is an advertising campaign. The canonical record lives at
// campaigns/{campaignId}; users keep mirrored copies under their customers.
type Campaign struct {
	CampaignID      string         `dynamodbav:"campaignId"`
	CustomerID      string         `dynamodbav:"customerId"`
	TeamID          string         `dynamodbav:"teamId"`
	OwnerID         string         `dynamodbav:"ownerId"`
	Name            string         `dynamodbav:"name"`
	ResourceName    string         `dynamodbav:"resourceName"`
	Status          CampaignStatus `dynamodbav:"status"`
	Budget          Budget         `dynamodbav:"campaignBudget"`
	Metrics         Metrics        `dynamodbav:"metrics"`
	FirstImportedAt time.Time      `dynamodbav:"firstImportedAt"`
	LastUpdated     time.Time      `dynamodbav:"lastUpdated"`

	Scope Scope `dynamodbav:"-"`
}

// CampaignPatch lists the Campaign fields a caller may change.
// Nil fields keep the current value.
type CampaignPatch struct {
	CustomerID   *string
	TeamID       *string
	OwnerID      *string
	Name         *string
	ResourceName *string
	Status       *CampaignStatus
	Budget       *Budget
	Metrics      *Metrics
	LastUpdated  *time.Time
}

// Clone returns a copy of c.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// Merge returns a new snapshot with p applied.
func (c *Campaign) Merge(p CampaignPatch) *Campaign {
	out := c.Clone()
	setIf(&out.CustomerID, p.CustomerID)
	setIf(&out.TeamID, p.TeamID)
	setIf(&out.OwnerID, p.OwnerID)
	setIf(&out.Name, p.Name)
	setIf(&out.ResourceName, p.ResourceName)
	setIf(&out.Status, p.Status)
	setIf(&out.Budget, p.Budget)
	setIf(&out.Metrics, p.Metrics)
	setIf(&out.LastUpdated, p.LastUpdated)
	return out
}

// ForTeam projects c into the canonical record stamped with team's id and owner.
func (c *Campaign) ForTeam(team *Team) *Campaign {
	out := c.Merge(CampaignPatch{TeamID: &team.TeamID, OwnerID: &team.OwnerID})
	out.Scope = TeamScope(team.TeamID)
	return out
}

// SettingsForTeam returns the settings record marking c as added to a team.
func (c *Campaign) SettingsForTeam() *CampaignSettings {
	return &CampaignSettings{
		CampaignID:      c.CampaignID,
		CustomerID:      c.CustomerID,
		IsAdded:         true,
		ThisMonthBudget: MonthlyBudget(c.Budget.AmountMicros),
	}
}

// MonthlyBudget estimates a month of spend from a daily budget: the amount
// times 30, divided by 50, rounded half up, times 50. It is exact for any
// amount whose product does not overflow.
func MonthlyBudget(amountMicros int64) int64 {
	// round(a*30/50) == floor((6a + 5) / 10)
	return floorDiv(amountMicros*6+5, 10) * 50
}

func floorDiv(n, d int64) int64 {
	q := n / d
	if n%d != 0 && (n < 0) != (d < 0) {
		q--
	}
	return q
}
