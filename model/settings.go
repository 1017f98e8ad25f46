package model

// CustomerSettings is a team's membership flag for a customer, stored at
// teams/{teamId}/customersSettings/{customerId}.
type CustomerSettings struct {
	CustomerID string `dynamodbav:"customerId"`
	IsAdded    bool   `dynamodbav:"isAdded"`
}

// CampaignSettings is a team's membership flag and budget estimate for a
// campaign, stored at teams/{teamId}/campaignsSettings/{campaignId}.
type CampaignSettings struct {
	CampaignID      string `dynamodbav:"campaignId"`
	CustomerID      string `dynamodbav:"customerId"`
	IsAdded         bool   `dynamodbav:"isAdded"`
	ThisMonthBudget int64  `dynamodbav:"thisMonthBudget"`
}
