package model

import "time"

// CronJobState is the scheduled campaign refresh record of a team, stored at
// both cronJobs/campaignsUpdate/teams/{teamId} and __cronCampaignsUpdate/{teamId}.
type CronJobState struct {
	TeamID              string              `dynamodbav:"teamId"`
	OwnerID             string              `dynamodbav:"ownerId"`
	OwnerRefreshToken   string              `dynamodbav:"ownerRefreshToken"`
	CampaignsByCustomer CampaignsByCustomer `dynamodbav:"campaignsByCustomer"`
	CampaignsCount      int                 `dynamodbav:"campaignsCount"`
	LastCronJob         time.Time           `dynamodbav:"lastCronJob"`
	LastFailedCronJob   time.Time           `dynamodbav:"lastFailedCronJob"`
	IsCronFailing       bool                `dynamodbav:"isCronFailing"`
}

// CronJobPatch lists the CronJobState fields a caller may change.
// Nil fields keep the current value.
type CronJobPatch struct {
	OwnerID             *string
	OwnerRefreshToken   *string
	CampaignsByCustomer CampaignsByCustomer
	LastCronJob         *time.Time
	LastFailedCronJob   *time.Time
	IsCronFailing       *bool
}

// NewCronJobState builds the initial refresh record for team.
func NewCronJobState(team *Team, refreshToken string, now time.Time) *CronJobState {
	return &CronJobState{
		TeamID:              team.TeamID,
		OwnerID:             team.OwnerID,
		OwnerRefreshToken:   refreshToken,
		CampaignsByCustomer: team.CampaignsByCustomer.Clone(),
		CampaignsCount:      team.CampaignsByCustomer.Count(),
		LastCronJob:         now,
		LastFailedCronJob:   time.Unix(0, 0).UTC(),
	}
}

// Merge returns a new snapshot with p applied. CampaignsCount follows
// CampaignsByCustomer.
func (s *CronJobState) Merge(p CronJobPatch) *CronJobState {
	out := *s
	out.CampaignsByCustomer = s.CampaignsByCustomer.Clone()
	setIf(&out.OwnerID, p.OwnerID)
	setIf(&out.OwnerRefreshToken, p.OwnerRefreshToken)
	setIf(&out.LastCronJob, p.LastCronJob)
	setIf(&out.LastFailedCronJob, p.LastFailedCronJob)
	setIf(&out.IsCronFailing, p.IsCronFailing)
	if p.CampaignsByCustomer != nil {
		out.CampaignsByCustomer = p.CampaignsByCustomer.Clone()
	}
	out.CampaignsCount = out.CampaignsByCustomer.Count()
	return &out
}

// Fields returns the update fields for p. Unset fields are omitted.
func (p CronJobPatch) Fields() map[string]any {
	fields := map[string]any{}
	if p.OwnerID != nil {
		fields["ownerId"] = *p.OwnerID
	}
	if p.OwnerRefreshToken != nil {
		fields["ownerRefreshToken"] = *p.OwnerRefreshToken
	}
	if p.CampaignsByCustomer != nil {
		fields["campaignsByCustomer"] = p.CampaignsByCustomer.Clone()
		fields["campaignsCount"] = p.CampaignsByCustomer.Count()
	}
	if p.LastCronJob != nil {
		fields["lastCronJob"] = *p.LastCronJob
	}
	if p.LastFailedCronJob != nil {
		fields["lastFailedCronJob"] = *p.LastFailedCronJob
	}
	if p.IsCronFailing != nil {
		fields["isCronFailing"] = *p.IsCronFailing
	}
	return fields
}
