package session

import (
	"context"
	"slices"
	"sync"

	"github.com/jacentio/teamsync/loader"
	"github.com/jacentio/teamsync/model"
	"github.com/jacentio/teamsync/store"
)

// CampaignKey addresses a campaign mirrored under one of the user's customers.
type CampaignKey struct {
	CustomerID string
	CampaignID string
}

// UserLoaders are the loaders and queries scoped to one user.
type UserLoaders struct {
	UserID string

	// User loads users/{id}.
	User *loader.Loader[string, *model.User]

	// Customer loads users/{UserID}/customers/{id}.
	Customer *loader.Loader[string, *model.Customer]

	// Campaign loads users/{UserID}/customers/{customerId}/campaigns/{campaignId}.
	Campaign *loader.Loader[CampaignKey, *model.Campaign]

	sess   *Session
	client store.Client

	mu                sync.Mutex
	customerIDs       []string
	customersListed   bool
	customerCampaigns map[string][]*model.Campaign
}

func newUserLoaders(s *Session, userID string) *UserLoaders {
	opts := s.opts.loaderOptions()
	return &UserLoaders{
		UserID: userID,
		User: loader.New(fetchDocs(s, "user", model.UserRef, func(u *model.User, ref store.DocRef) {
			if u.UserID == "" {
				u.UserID = ref.ID
			}
		}), opts...),
		Customer: loader.New(fetchDocs(s, "userCustomer", func(id string) store.DocRef {
			return model.UserCustomerRef(userID, id)
		}, userCustomer(userID)), opts...),
		Campaign: loader.New(fetchDocs(s, "userCampaign", func(k CampaignKey) store.DocRef {
			return model.UserCampaignRef(userID, k.CustomerID, k.CampaignID)
		}, userCampaign(userID)), opts...),
		sess:              s,
		client:            s.client,
		customerCampaigns: make(map[string][]*model.Campaign),
	}
}

func userCustomer(userID string) func(*model.Customer, store.DocRef) {
	return func(c *model.Customer, ref store.DocRef) {
		if c.CustomerID == "" {
			c.CustomerID = ref.ID
		}
		c.Scope = model.UserScope(userID)
	}
}

func userCampaign(userID string) func(*model.Campaign, store.DocRef) {
	return func(c *model.Campaign, ref store.DocRef) {
		if c.CampaignID == "" {
			c.CampaignID = ref.ID
		}
		if c.CustomerID == "" && ref.Parent.Parent != nil {
			c.CustomerID = ref.Parent.Parent.ID
		}
		c.Scope = model.UserScope(userID)
	}
}

// LoadUser returns the user record, or nil when it does not exist.
func (ul *UserLoaders) LoadUser(ctx context.Context) (*model.User, error) {
	return ul.User.Load(ctx, ul.UserID)
}

// Customers lists the user's mirrored customers. The first call queries the
// collection and primes the Customer loader; later calls reload the listed ids.
func (ul *UserLoaders) Customers(ctx context.Context) ([]*model.Customer, error) {
	ul.mu.Lock()
	listed, ids := ul.customersListed, slices.Clone(ul.customerIDs)
	ul.mu.Unlock()

	if listed {
		customers, err := ul.Customer.LoadMany(ctx, ids)
		if err != nil {
			return nil, err
		}
		return present(customers), nil
	}

	docs, err := ul.client.Query(ctx, model.UserCustomersRef(ul.UserID))
	if err != nil {
		return nil, err
	}
	customers, err := decodeAll(docs, userCustomer(ul.UserID))
	if err != nil {
		return nil, err
	}
	ids = make([]string, len(customers))
	for i, c := range customers {
		ul.Customer.Prime(c.CustomerID, c)
		ids[i] = c.CustomerID
	}

	ul.mu.Lock()
	ul.customerIDs, ul.customersListed = ids, true
	ul.mu.Unlock()
	return customers, nil
}

// CustomersByIDs loads the user's customers with the given ids, skipping missing ones.
func (ul *UserLoaders) CustomersByIDs(ctx context.Context, customerIDs []string) ([]*model.Customer, error) {
	customers, err := ul.Customer.LoadMany(ctx, customerIDs)
	if err != nil {
		return nil, err
	}
	return present(customers), nil
}

// CustomerCampaigns lists the campaigns mirrored under one of the user's
// customers. The result is memoized per customer.
func (ul *UserLoaders) CustomerCampaigns(ctx context.Context, customerID string) ([]*model.Campaign, error) {
	ul.mu.Lock()
	cached, ok := ul.customerCampaigns[customerID]
	ul.mu.Unlock()
	if ok {
		return cached, nil
	}

	docs, err := ul.client.Query(ctx, model.UserCampaignsRef(ul.UserID, customerID))
	if err != nil {
		return nil, err
	}
	campaigns, err := decodeAll(docs, userCampaign(ul.UserID))
	if err != nil {
		return nil, err
	}
	for _, c := range campaigns {
		ul.Campaign.Prime(CampaignKey{CustomerID: c.CustomerID, CampaignID: c.CampaignID}, c)
	}

	ul.mu.Lock()
	ul.customerCampaigns[customerID] = campaigns
	ul.mu.Unlock()
	return campaigns, nil
}

// CampaignsByKeys loads the given mirrored campaigns, skipping missing ones.
func (ul *UserLoaders) CampaignsByKeys(ctx context.Context, keys []CampaignKey) ([]*model.Campaign, error) {
	campaigns, err := ul.Campaign.LoadMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	return present(campaigns), nil
}

// Session returns the session that owns ul.
func (ul *UserLoaders) Session() *Session {
	return ul.sess
}
