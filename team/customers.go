package team

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jacentio/teamsync/model"
	"github.com/jacentio/teamsync/session"
	"github.com/jacentio/teamsync/store"
)

// AddCustomers adds customers to the team.
//
// If any candidate's canonical record belongs to another team, ErrPrecondition
// is returned and nothing is written. Candidates already in the team's index
// are skipped. For the rest, the canonical record is written when it is
// missing or unowned, a settings record is written and an empty campaign
// list is added to the index.
func (s *Service) AddCustomers(ctx context.Context, tl *session.TeamLoaders, customers []*model.Customer) (_ *model.Team, err error) {
	ctx, span := s.start(ctx, "team.AddCustomers", tl)
	defer func() { endSpan(span, err) }()

	customers, err = uniqueCustomers(customers)
	if err != nil {
		return nil, err
	}
	team, err := s.GetTeam(ctx, tl)
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return team, nil
	}

	ids := make([]string, len(customers))
	for i, c := range customers {
		ids[i] = c.CustomerID
	}
	canonical, err := tl.Customer.LoadMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	for i, c := range canonical {
		if c != nil && c.OwnedByOtherTeam(team.TeamID) {
			return nil, fmt.Errorf("%w: customer %s (%s) belongs to team %s",
				ErrPrecondition, ids[i], c.Name, c.TeamID)
		}
	}

	index := team.CampaignsByCustomer.Clone()
	var ops []store.Op
	var added []string
	for i, c := range customers {
		if index.Has(c.CustomerID) {
			continue
		}
		if canonical[i] == nil || canonical[i].TeamID == "" {
			ops = append(ops, store.SetOp(model.CustomerRef(c.CustomerID), c.ForTeam(team)))
		}
		ops = append(ops, store.SetOp(model.CustomerSettingsRef(team.TeamID, c.CustomerID), &model.CustomerSettings{
			CustomerID: c.CustomerID,
			IsAdded:    true,
		}))
		index[c.CustomerID] = []string{}
		added = append(added, c.CustomerID)
	}
	if len(added) == 0 {
		return team, nil
	}

	updated := team.Merge(model.TeamPatch{CampaignsByCustomer: index})
	ops = append(ops, store.UpdateOp(model.TeamRef(team.TeamID), updated.AggregateFields()))
	span.SetAttributes(attribute.Int("team.ops", len(ops)))

	if err := s.commit(ctx, tl, ops, added, nil); err != nil {
		return nil, fmt.Errorf("add customers to team %s: %w", team.TeamID, err)
	}

	s.logger.InfoContext(ctx, "customers added", "teamId", team.TeamID, "customers", len(added))
	return updated, nil
}

// AddCustomersFromUser adds the customers the user of ul mirrors under the
// given ids. Every id must resolve, otherwise nothing is written and
// ErrCustomerNotFound is returned.
func (s *Service) AddCustomersFromUser(ctx context.Context, tl *session.TeamLoaders, ul *session.UserLoaders, customerIDs []string) (*model.Team, error) {
	customers, err := ul.Customer.LoadMany(ctx, customerIDs)
	if err != nil {
		return nil, fmt.Errorf("load user customers: %w", err)
	}
	for i, c := range customers {
		if c == nil {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerIDs[i])
		}
	}
	return s.AddCustomers(ctx, tl, customers)
}

// RemoveCustomers removes customers from the team. It deletes each customer's
// settings and canonical records and its index key. Customers owned by
// another team are skipped, as are customers that are neither indexed nor
// stamped with this team. Their campaigns are left in place.
func (s *Service) RemoveCustomers(ctx context.Context, tl *session.TeamLoaders, customerIDs []string) (_ *model.Team, err error) {
	ctx, span := s.start(ctx, "team.RemoveCustomers", tl)
	defer func() { endSpan(span, err) }()

	ids, err := uniqueIDs(customerIDs)
	if err != nil {
		return nil, err
	}
	team, err := s.GetTeam(ctx, tl)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return team, nil
	}

	canonical, err := tl.Customer.LoadMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}

	index := team.CampaignsByCustomer.Clone()
	var ops []store.Op
	var removed []string
	for i, id := range ids {
		c := canonical[i]
		switch {
		case c != nil && c.OwnedByOtherTeam(team.TeamID):
			s.logger.WarnContext(ctx, "skipping customer of another team",
				"teamId", team.TeamID, "customerId", id, "ownerTeamId", c.TeamID)
			continue
		case !index.Has(id) && (c == nil || c.TeamID != team.TeamID):
			continue
		}
		ops = append(ops,
			store.DeleteOp(model.CustomerSettingsRef(team.TeamID, id)),
			store.DeleteOp(model.CustomerRef(id)),
		)
		delete(index, id)
		removed = append(removed, id)
	}
	if len(removed) == 0 {
		return team, nil
	}

	updated := team.Merge(model.TeamPatch{CampaignsByCustomer: index})
	ops = append(ops, store.UpdateOp(model.TeamRef(team.TeamID), updated.AggregateFields()))
	span.SetAttributes(attribute.Int("team.ops", len(ops)))

	if err := s.commit(ctx, tl, ops, removed, nil); err != nil {
		return nil, fmt.Errorf("remove customers from team %s: %w", team.TeamID, err)
	}

	s.logger.InfoContext(ctx, "customers removed",
		"teamId", team.TeamID,
		"customers", len(removed),
		"campaignsCount", updated.CampaignsCount,
	)
	return updated, nil
}

// uniqueCustomers validates customer ids and drops repeated ones, keeping the
// first occurrence.
func uniqueCustomers(customers []*model.Customer) ([]*model.Customer, error) {
	seen := make(map[string]bool, len(customers))
	out := make([]*model.Customer, 0, len(customers))
	for _, c := range customers {
		if c == nil {
			return nil, fmt.Errorf("%w: nil customer", store.ErrInvalidArgument)
		}
		if err := model.CustomerRef(c.CustomerID).Validate(); err != nil {
			return nil, fmt.Errorf("customer id: %w", err)
		}
		if seen[c.CustomerID] {
			continue
		}
		seen[c.CustomerID] = true
		out = append(out, c)
	}
	return out, nil
}

func uniqueIDs(ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := model.CustomerRef(id).Validate(); err != nil {
			return nil, fmt.Errorf("customer id: %w", err)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
