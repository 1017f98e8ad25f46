// Package team keeps a team's canonical records, settings records and the
// denormalized campaign index consistent across mutations.
//
// Every mutation hydrates the current state through the session's loaders,
// computes one ordered op list, commits it through a chunked writer and then
// clears the touched cache entries. Precondition checks run before any write.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jacentio/teamsync/bigbatch"
	"github.com/jacentio/teamsync/model"
	"github.com/jacentio/teamsync/session"
	"github.com/jacentio/teamsync/store"
)

var tracer = otel.Tracer("github.com/jacentio/teamsync/team")

// Sentinel errors.
var (
	// ErrTeamNotFound is returned when the team record does not exist.
	ErrTeamNotFound = errors.New("team: team not found")

	// ErrUserNotFound is returned when a user record does not exist.
	ErrUserNotFound = errors.New("team: user not found")

	// ErrCustomerNotFound is returned when a requested customer does not exist.
	ErrCustomerNotFound = errors.New("team: customer not found")

	// ErrCampaignNotFound is returned when a requested campaign does not exist.
	ErrCampaignNotFound = errors.New("team: campaign not found")

	// ErrPrecondition is returned when a mutation would break an ownership rule.
	// Nothing is written when it is returned.
	ErrPrecondition = errors.New("team: precondition violated")
)

// Config configures a Service.
type Config struct {
	// ChunkSize bounds the ops per atomic commit. Zero uses the store's limit.
	ChunkSize int

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Service coordinates multi-document team mutations.
type Service struct {
	client store.Client
	writer *bigbatch.Writer
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service writing through client.
func New(client store.Client, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		client: client,
		writer: bigbatch.New(client, config.ChunkSize, logger),
		logger: logger,
		now:    now,
	}
}

// GetTeam returns the team of tl, or ErrTeamNotFound.
func (s *Service) GetTeam(ctx context.Context, tl *session.TeamLoaders) (*model.Team, error) {
	team, err := tl.LoadTeam(ctx)
	if err != nil {
		return nil, fmt.Errorf("load team %s: %w", tl.TeamID, err)
	}
	if team == nil {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, tl.TeamID)
	}
	return team, nil
}

// refreshTeam drops the cached team and reloads it from the store.
func (s *Service) refreshTeam(ctx context.Context, tl *session.TeamLoaders) (*model.Team, error) {
	tl.Team.Clear(tl.TeamID)
	return s.GetTeam(ctx, tl)
}

// CreateTeam stores a new team owned by owner and primes it into sess.
func (s *Service) CreateTeam(ctx context.Context, sess *session.Session, name string, owner *model.User, role model.Role) (_ *model.Team, err error) {
	ctx, span := tracer.Start(ctx, "team.CreateTeam")
	defer func() { endSpan(span, err) }()

	if name == "" {
		return nil, fmt.Errorf("%w: empty team name", store.ErrInvalidArgument)
	}
	if owner == nil {
		return nil, fmt.Errorf("%w: missing owner", store.ErrInvalidArgument)
	}
	if err := model.ValidateUserID(owner.UserID); err != nil {
		return nil, err
	}
	if role == "" {
		role = model.RoleOwner
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: role %q", store.ErrInvalidArgument, role)
	}

	team := model.NewTeam("", name, owner, role, s.now().UTC())
	ref, err := s.client.Create(ctx, store.Collection(model.TeamsCollection), team)
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	if err := s.client.Update(ctx, ref, map[string]any{"teamId": ref.ID}); err != nil {
		return nil, fmt.Errorf("stamp team id %s: %w", ref.ID, err)
	}
	team.TeamID = ref.ID
	span.SetAttributes(attribute.String("team.id", ref.ID))

	sess.Team(ref.ID).Team.Prime(ref.ID, team)
	s.logger.InfoContext(ctx, "team created", "teamId", ref.ID, "ownerId", owner.UserID)
	return team, nil
}

// AddMember adds the user of ul to the team with role, updating the team's
// member map and the user's membership map in one atomic commit.
func (s *Service) AddMember(ctx context.Context, tl *session.TeamLoaders, ul *session.UserLoaders, role model.Role) (_ *model.Team, err error) {
	ctx, span := s.start(ctx, "team.AddMember", tl)
	defer func() { endSpan(span, err) }()

	if role == "" {
		role = model.RoleViewer
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: role %q", store.ErrInvalidArgument, role)
	}
	if err := model.ValidateUserID(ul.UserID); err != nil {
		return nil, err
	}

	userThunk := ul.User.LoadThunk(ctx, ul.UserID)
	team, err := s.GetTeam(ctx, tl)
	if err != nil {
		return nil, err
	}
	user, err := userThunk()
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", ul.UserID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, ul.UserID)
	}

	member := model.MemberFromUser(user, role)
	ops := []store.Op{
		store.UpdateOp(model.TeamRef(team.TeamID), map[string]any{"members." + user.UserID: member}),
		store.UpdateOp(model.UserRef(user.UserID), map[string]any{"teamsMembership": user.WithMembership(team, role)}),
	}

	err = s.writer.Commit(ctx, ops)
	tl.Team.Clear(tl.TeamID)
	ul.User.Clear(ul.UserID)
	if err != nil {
		return nil, fmt.Errorf("add member %s: %w", user.UserID, err)
	}

	members := team.Clone().Members
	members[user.UserID] = member
	s.logger.InfoContext(ctx, "member added", "teamId", team.TeamID, "userId", user.UserID, "role", string(role))
	return team.Merge(model.TeamPatch{Members: members}), nil
}

// RenameTeam renames the team and the team entry of every member's
// membership map.
func (s *Service) RenameTeam(ctx context.Context, tl *session.TeamLoaders, name string) (_ *model.Team, err error) {
	ctx, span := s.start(ctx, "team.RenameTeam", tl)
	defer func() { endSpan(span, err) }()

	if name == "" {
		return nil, fmt.Errorf("%w: empty team name", store.ErrInvalidArgument)
	}
	team, err := s.refreshTeam(ctx, tl)
	if err != nil {
		return nil, err
	}

	memberIDs := sortedKeys(team.Members)
	refs := make([]store.DocRef, len(memberIDs))
	for i, id := range memberIDs {
		refs[i] = model.UserRef(id)
	}
	docs, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	var ops []store.Op
	var renamed []string
	for i, doc := range docs {
		if doc == nil {
			s.logger.WarnContext(ctx, "member has no user record", "teamId", team.TeamID, "userId", memberIDs[i])
			continue
		}
		var user model.User
		if err := doc.DataTo(&user); err != nil {
			return nil, err
		}
		// Nested update paths need the parent entry to exist.
		if _, ok := user.TeamsMembership[team.TeamID]; !ok {
			continue
		}
		ops = append(ops, store.UpdateOp(doc.Ref, map[string]any{
			"teamsMembership." + team.TeamID + ".name": name,
		}))
		renamed = append(renamed, memberIDs[i])
	}
	ops = append(ops, store.UpdateOp(model.TeamRef(team.TeamID), map[string]any{"name": name}))

	err = s.writer.Commit(ctx, ops)
	tl.Team.Clear(tl.TeamID)
	for _, id := range renamed {
		tl.Session().User(id).User.Clear(id)
	}
	if err != nil {
		return nil, fmt.Errorf("rename team %s: %w", team.TeamID, err)
	}

	s.logger.InfoContext(ctx, "team renamed", "teamId", team.TeamID, "members", len(renamed))
	return team.Merge(model.TeamPatch{Name: &name}), nil
}

// Customers returns the team's canonical customers. With no ids it lists
// every customer owned by the team; otherwise it loads the given ids and
// drops those owned by another team or missing.
func (s *Service) Customers(ctx context.Context, tl *session.TeamLoaders, customerIDs []string) ([]*model.Customer, error) {
	if len(customerIDs) == 0 {
		return tl.TeamCustomers(ctx)
	}
	return tl.CustomersByIDs(ctx, customerIDs)
}

// commit writes ops and clears the cache entries they touch, whatever the
// outcome of the commit.
func (s *Service) commit(ctx context.Context, tl *session.TeamLoaders, ops []store.Op, customerIDs, campaignIDs []string) error {
	err := s.writer.Commit(ctx, ops)

	tl.Team.Clear(tl.TeamID)
	for _, id := range customerIDs {
		tl.Customer.Clear(id)
		tl.CustomerSettings.Clear(id)
	}
	for _, id := range campaignIDs {
		tl.Campaign.Clear(id)
		tl.CampaignSettings.Clear(id)
	}
	if len(customerIDs) > 0 {
		tl.ClearCustomerCampaigns(customerIDs...)
	}
	return err
}

func (s *Service) start(ctx context.Context, name string, tl *session.TeamLoaders) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("team.id", tl.TeamID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
