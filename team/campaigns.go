package team

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jacentio/teamsync/model"
	"github.com/jacentio/teamsync/session"
	"github.com/jacentio/teamsync/store"
)

// AddCampaigns adds campaigns to the team. For each campaign it writes the
// team's settings record with the monthly budget estimate and the canonical
// record stamped with the team, and appends the campaign to the team's index.
// Campaign ids repeated in the input are added once.
func (s *Service) AddCampaigns(ctx context.Context, tl *session.TeamLoaders, campaigns []*model.Campaign) (_ *model.Team, err error) {
	ctx, span := s.start(ctx, "team.AddCampaigns", tl)
	defer func() { endSpan(span, err) }()

	campaigns, err = uniqueCampaigns(campaigns)
	if err != nil {
		return nil, err
	}
	team, err := s.GetTeam(ctx, tl)
	if err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return team, nil
	}

	index := team.CampaignsByCustomer.Clone()
	ops := make([]store.Op, 0, 2*len(campaigns)+1)
	campaignIDs := make([]string, 0, len(campaigns))
	for _, c := range campaigns {
		ops = append(ops,
			store.SetOp(model.CampaignSettingsRef(team.TeamID, c.CampaignID), c.SettingsForTeam()),
			store.SetOp(model.CampaignRef(c.CampaignID), c.ForTeam(team)),
		)
		index.Add(c.CustomerID, c.CampaignID)
		campaignIDs = append(campaignIDs, c.CampaignID)
	}
	updated := team.Merge(model.TeamPatch{CampaignsByCustomer: index})
	ops = append(ops, store.UpdateOp(model.TeamRef(team.TeamID), updated.AggregateFields()))
	span.SetAttributes(attribute.Int("team.ops", len(ops)))

	if err := s.commit(ctx, tl, ops, touchedCustomers(campaigns), campaignIDs); err != nil {
		return nil, fmt.Errorf("add campaigns to team %s: %w", team.TeamID, err)
	}

	s.logger.InfoContext(ctx, "campaigns added",
		"teamId", team.TeamID,
		"campaigns", len(campaigns),
		"campaignsCount", updated.CampaignsCount,
	)
	return updated, nil
}

// AddCampaignsFromUser adds the campaigns the user of ul mirrors under the
// given keys. Every key must resolve, otherwise nothing is written and
// ErrCampaignNotFound is returned.
func (s *Service) AddCampaignsFromUser(ctx context.Context, tl *session.TeamLoaders, ul *session.UserLoaders, keys []session.CampaignKey) (*model.Team, error) {
	campaigns, err := ul.Campaign.LoadMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load user campaigns: %w", err)
	}
	for i, c := range campaigns {
		if c == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrCampaignNotFound, keys[i].CustomerID, keys[i].CampaignID)
		}
	}
	return s.AddCampaigns(ctx, tl, campaigns)
}

// RemoveCampaigns removes the given campaigns from the team. It reloads the
// team first, deletes each campaign's settings and canonical records, drops
// the campaign from the index and deletes customer keys left without
// campaigns. The team record is written once, after every delete.
func (s *Service) RemoveCampaigns(ctx context.Context, tl *session.TeamLoaders, byCustomer model.CampaignsByCustomer) (_ *model.Team, err error) {
	ctx, span := s.start(ctx, "team.RemoveCampaigns", tl)
	defer func() { endSpan(span, err) }()

	for _, customerID := range byCustomer.CustomerIDs() {
		if err := model.CustomerRef(customerID).Validate(); err != nil {
			return nil, err
		}
		for _, campaignID := range byCustomer[customerID] {
			if err := model.CampaignRef(campaignID).Validate(); err != nil {
				return nil, err
			}
		}
	}

	team, err := s.refreshTeam(ctx, tl)
	if err != nil {
		return nil, err
	}
	if byCustomer.Count() == 0 {
		return team, nil
	}

	index := team.CampaignsByCustomer.Clone()
	seen := make(map[string]bool)
	var ops []store.Op
	var campaignIDs []string
	customerIDs := byCustomer.CustomerIDs()
	for _, customerID := range customerIDs {
		for _, campaignID := range byCustomer[customerID] {
			if seen[campaignID] {
				continue
			}
			seen[campaignID] = true
			ops = append(ops,
				store.DeleteOp(model.CampaignSettingsRef(team.TeamID, campaignID)),
				store.DeleteOp(model.CampaignRef(campaignID)),
			)
			index.Remove(customerID, campaignID)
			campaignIDs = append(campaignIDs, campaignID)
		}
	}
	updated := team.Merge(model.TeamPatch{CampaignsByCustomer: index})
	ops = append(ops, store.UpdateOp(model.TeamRef(team.TeamID), updated.AggregateFields()))
	span.SetAttributes(attribute.Int("team.ops", len(ops)))

	if err := s.commit(ctx, tl, ops, customerIDs, campaignIDs); err != nil {
		return nil, fmt.Errorf("remove campaigns from team %s: %w", team.TeamID, err)
	}

	s.logger.InfoContext(ctx, "campaigns removed",
		"teamId", team.TeamID,
		"campaigns", len(campaignIDs),
		"campaignsCount", updated.CampaignsCount,
	)
	return updated, nil
}

// uniqueCampaigns validates campaign ids and drops repeated ones, keeping the
// first occurrence.
func uniqueCampaigns(campaigns []*model.Campaign) ([]*model.Campaign, error) {
	seen := make(map[string]bool, len(campaigns))
	out := make([]*model.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if c == nil {
			return nil, fmt.Errorf("%w: nil campaign", store.ErrInvalidArgument)
		}
		if err := model.CampaignRef(c.CampaignID).Validate(); err != nil {
			return nil, fmt.Errorf("campaign id: %w", err)
		}
		if err := model.CustomerRef(c.CustomerID).Validate(); err != nil {
			return nil, fmt.Errorf("campaign %s customer id: %w", c.CampaignID, err)
		}
		if seen[c.CampaignID] {
			continue
		}
		seen[c.CampaignID] = true
		out = append(out, c)
	}
	return out, nil
}

// touchedCustomers returns the distinct customer ids of campaigns.
func touchedCustomers(campaigns []*model.Campaign) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range campaigns {
		if !seen[c.CustomerID] {
			seen[c.CustomerID] = true
			out = append(out, c.CustomerID)
		}
	}
	return out
}
