package session

import (
	"context"
	"sync"

	"github.com/jacentio/teamsync/loader"
	"github.com/jacentio/teamsync/model"
	"github.com/jacentio/teamsync/store"
)

// TeamLoaders are the loaders and queries scoped to one team.
type TeamLoaders struct {
	TeamID string

	// Team loads teams/{id}. Only TeamID is expected as a key.
	Team *loader.Loader[string, *model.Team]

	// Customer loads canonical customers/{id}.
	Customer *loader.Loader[string, *model.Customer]

	// Campaign loads canonical campaigns/{id}.
	Campaign *loader.Loader[string, *model.Campaign]

	// CustomerSettings loads teams/{TeamID}/customersSettings/{id}.
	CustomerSettings *loader.Loader[string, *model.CustomerSettings]

	// CampaignSettings loads teams/{TeamID}/campaignsSettings/{id}.
	CampaignSettings *loader.Loader[string, *model.CampaignSettings]

	sess   *Session
	client store.Client

	mu                sync.Mutex
	customerCampaigns map[string][]*model.Campaign
}

func newTeamLoaders(s *Session, teamID string) *TeamLoaders {
	opts := s.opts.loaderOptions()
	return &TeamLoaders{
		TeamID: teamID,
		Team: loader.New(fetchDocs(s, "team", model.TeamRef, func(t *model.Team, ref store.DocRef) {
			if t.TeamID == "" {
				t.TeamID = ref.ID
			}
		}), opts...),
		Customer: loader.New(fetchDocs(s, "teamCustomer", model.CustomerRef, teamCustomer(teamID)), opts...),
		Campaign: loader.New(fetchDocs(s, "teamCampaign", model.CampaignRef, teamCampaign(teamID)), opts...),
		CustomerSettings: loader.New(fetchDocs(s, "teamCustomerSettings", func(id string) store.DocRef {
			return model.CustomerSettingsRef(teamID, id)
		}, func(cs *model.CustomerSettings, ref store.DocRef) {
			if cs.CustomerID == "" {
				cs.CustomerID = ref.ID
			}
		}), opts...),
		CampaignSettings: loader.New(fetchDocs(s, "teamCampaignSettings", func(id string) store.DocRef {
			return model.CampaignSettingsRef(teamID, id)
		}, func(cs *model.CampaignSettings, ref store.DocRef) {
			if cs.CampaignID == "" {
				cs.CampaignID = ref.ID
			}
		}), opts...),
		sess:              s,
		client:            s.client,
		customerCampaigns: make(map[string][]*model.Campaign),
	}
}

func teamCustomer(teamID string) func(*model.Customer, store.DocRef) {
	return func(c *model.Customer, ref store.DocRef) {
		if c.CustomerID == "" {
			c.CustomerID = ref.ID
		}
		c.Scope = model.TeamScope(teamID)
	}
}

func teamCampaign(teamID string) func(*model.Campaign, store.DocRef) {
	return func(c *model.Campaign, ref store.DocRef) {
		if c.CampaignID == "" {
			c.CampaignID = ref.ID
		}
		c.Scope = model.TeamScope(teamID)
	}
}

// LoadTeam returns the team record, or nil when it does not exist.
func (tl *TeamLoaders) LoadTeam(ctx context.Context) (*model.Team, error) {
	return tl.Team.Load(ctx, tl.TeamID)
}

// TeamCustomers queries the canonical customers owned by the team and primes
// the Customer loader with them.
func (tl *TeamLoaders) TeamCustomers(ctx context.Context) ([]*model.Customer, error) {
	docs, err := tl.client.Query(ctx, store.Collection(model.CustomersCollection), store.Where("teamId", tl.TeamID))
	if err != nil {
		return nil, err
	}
	customers, err := decodeAll(docs, teamCustomer(tl.TeamID))
	if err != nil {
		return nil, err
	}
	for _, c := range customers {
		tl.Customer.Prime(c.CustomerID, c)
	}
	return customers, nil
}

// TeamCampaigns queries the canonical campaigns owned by the team and primes
// the Campaign loader with them.
func (tl *TeamLoaders) TeamCampaigns(ctx context.Context) ([]*model.Campaign, error) {
	docs, err := tl.client.Query(ctx, store.Collection(model.CampaignsCollection), store.Where("teamId", tl.TeamID))
	if err != nil {
		return nil, err
	}
	campaigns, err := decodeAll(docs, teamCampaign(tl.TeamID))
	if err != nil {
		return nil, err
	}
	for _, c := range campaigns {
		tl.Campaign.Prime(c.CampaignID, c)
	}
	return campaigns, nil
}

// CustomerCampaigns returns the team's campaigns of customerID. The query
// result is memoized per customer until ClearCustomerCampaigns.
func (tl *TeamLoaders) CustomerCampaigns(ctx context.Context, customerID string) ([]*model.Campaign, error) {
	tl.mu.Lock()
	cached, ok := tl.customerCampaigns[customerID]
	tl.mu.Unlock()
	if ok {
		return cached, nil
	}

	docs, err := tl.client.Query(ctx, store.Collection(model.CampaignsCollection),
		store.Where("customerId", customerID),
		store.Where("teamId", tl.TeamID),
	)
	if err != nil {
		return nil, err
	}
	campaigns, err := decodeAll(docs, teamCampaign(tl.TeamID))
	if err != nil {
		return nil, err
	}
	for _, c := range campaigns {
		tl.Campaign.Prime(c.CampaignID, c)
	}

	tl.mu.Lock()
	tl.customerCampaigns[customerID] = campaigns
	tl.mu.Unlock()
	return campaigns, nil
}

// ClearCustomerCampaigns forgets memoized CustomerCampaigns results for the
// given customers, or for every customer when none are given.
func (tl *TeamLoaders) ClearCustomerCampaigns(customerIDs ...string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if len(customerIDs) == 0 {
		clear(tl.customerCampaigns)
		return
	}
	for _, id := range customerIDs {
		delete(tl.customerCampaigns, id)
	}
}

// CampaignSettingsFor queries the added campaign settings of customerID and
// primes the CampaignSettings loader with them.
func (tl *TeamLoaders) CampaignSettingsFor(ctx context.Context, customerID string) ([]*model.CampaignSettings, error) {
	docs, err := tl.client.Query(ctx, model.TeamRef(tl.TeamID).Collection(model.CampaignsSettingsCollection),
		store.Where("isAdded", true),
		store.Where("customerId", customerID),
	)
	if err != nil {
		return nil, err
	}
	settings, err := decodeAll[model.CampaignSettings](docs, nil)
	if err != nil {
		return nil, err
	}
	for _, cs := range settings {
		tl.CampaignSettings.Prime(cs.CampaignID, cs)
	}
	return settings, nil
}

// CampaignSettingsByIDs loads the team's settings of the given campaigns,
// skipping campaigns without a settings record.
func (tl *TeamLoaders) CampaignSettingsByIDs(ctx context.Context, campaignIDs []string) ([]*model.CampaignSettings, error) {
	settings, err := tl.CampaignSettings.LoadMany(ctx, campaignIDs)
	if err != nil {
		return nil, err
	}
	return present(settings), nil
}

// CustomersByIDs loads the canonical customers with the given ids that belong
// to the team.
func (tl *TeamLoaders) CustomersByIDs(ctx context.Context, customerIDs []string) ([]*model.Customer, error) {
	customers, err := tl.Customer.LoadMany(ctx, customerIDs)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Customer, 0, len(customers))
	for _, c := range customers {
		if c != nil && c.TeamID == tl.TeamID {
			out = append(out, c)
		}
	}
	return out, nil
}

// Session returns the session that owns tl.
func (tl *TeamLoaders) Session() *Session {
	return tl.sess
}
