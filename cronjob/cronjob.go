// Package cronjob persists a team's scheduled campaign refresh record.
//
// The record lives at two locations: cronJobs/campaignsUpdate/teams/{teamId},
// which Get reads, and __cronCampaignsUpdate/{teamId}, which the scheduler
// scans. Every write touches both in one atomic commit.
package cronjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/teamsync/model"
	"github.com/jacentio/teamsync/store"
)

// ErrMissingRefreshToken is returned by Create without an owner refresh token.
var ErrMissingRefreshToken = errors.New("cronjob: owner refresh token required")

// Store reads and writes CronJobState records.
type Store struct {
	client store.Client
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store. A nil logger uses slog.Default and a nil now uses time.Now.
func New(client store.Client, logger *slog.Logger, now func() time.Time) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Store{client: client, logger: logger, now: now}
}

func refs(teamID string) []store.DocRef {
	return []store.DocRef{model.CronJobRef(teamID), model.CronMirrorRef(teamID)}
}

// Get returns the team's record, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, teamID string) (*model.CronJobState, error) {
	ref := model.CronJobRef(teamID)
	doc, err := s.client.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("get cron job %s: %w", teamID, err)
	}
	var state model.CronJobState
	if err := doc.DataTo(&state); err != nil {
		return nil, err
	}
	if state.TeamID == "" {
		state.TeamID = ref.ID
	}
	return &state, nil
}

// Create writes the initial record for team at both locations, merging into
// any existing record.
func (s *Store) Create(ctx context.Context, team *model.Team, refreshToken string) (*model.CronJobState, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}
	if err := model.TeamRef(team.TeamID).Validate(); err != nil {
		return nil, err
	}

	state := model.NewCronJobState(team, refreshToken, s.now().UTC())
	var ops []store.Op
	for _, ref := range refs(team.TeamID) {
		ops = append(ops, store.MergeOp(ref, state))
	}
	if err := s.client.Commit(ctx, ops); err != nil {
		return nil, fmt.Errorf("create cron job %s: %w", team.TeamID, err)
	}

	s.logger.InfoContext(ctx, "cron job created", "teamId", team.TeamID, "campaignsCount", state.CampaignsCount)
	return state, nil
}

// Update applies patch at both locations. Both records must exist, otherwise
// store.ErrNotFound is returned and nothing is written.
func (s *Store) Update(ctx context.Context, teamID string, patch model.CronJobPatch) error {
	fields := patch.Fields()
	if len(fields) == 0 {
		return nil
	}
	var ops []store.Op
	for _, ref := range refs(teamID) {
		ops = append(ops, store.UpdateOp(ref, fields))
	}
	if err := s.client.Commit(ctx, ops); err != nil {
		return fmt.Errorf("update cron job %s: %w", teamID, err)
	}
	return nil
}

// Mirror copies the team's campaign index and count into its record.
func (s *Store) Mirror(ctx context.Context, team *model.Team) error {
	err := s.Update(ctx, team.TeamID, model.CronJobPatch{
		CampaignsByCustomer: team.CampaignsByCustomer.Clone(),
	})
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "cron job mirrored", "teamId", team.TeamID, "campaignsCount", team.CampaignsByCustomer.Count())
	return nil
}

// MarkRun records the outcome of a refresh run. A nil runErr stamps
// lastCronJob and clears isCronFailing; otherwise lastFailedCronJob is
// stamped and isCronFailing set.
func (s *Store) MarkRun(ctx context.Context, teamID string, runErr error) error {
	now := s.now().UTC()
	failing := runErr != nil
	patch := model.CronJobPatch{IsCronFailing: &failing}
	if failing {
		patch.LastFailedCronJob = &now
		s.logger.WarnContext(ctx, "cron job run failed", "teamId", teamID, "error", runErr)
	} else {
		patch.LastCronJob = &now
	}
	return s.Update(ctx, teamID, patch)
}

// Remove deletes the record at both locations. Removing a missing record is
// not an error.
func (s *Store) Remove(ctx context.Context, teamID string) error {
	var ops []store.Op
	for _, ref := range refs(teamID) {
		ops = append(ops, store.DeleteOp(ref))
	}
	if err := s.client.Commit(ctx, ops); err != nil {
		return fmt.Errorf("remove cron job %s: %w", teamID, err)
	}
	s.logger.InfoContext(ctx, "cron job removed", "teamId", teamID)
	return nil
}
