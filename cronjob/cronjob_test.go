package cronjob_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/jacentio/teamsync/cronjob"
	"github.com/jacentio/teamsync/model"
	"github.com/jacentio/teamsync/store"
	"github.com/jacentio/teamsync/store/storetest"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newStore() (*cronjob.Store, *storetest.Memory) {
	mem := storetest.NewMemory(0)
	return cronjob.New(mem, nil, func() time.Time { return fixedNow }), mem
}

func testTeam() *model.Team {
	return &model.Team{
		TeamID:              "t1",
		OwnerID:             "owner-1",
		CampaignsByCustomer: model.CampaignsByCustomer{"x": {"c1", "c2"}},
		CampaignsCount:      2,
	}
}

func readMirror(t *testing.T, mem *storetest.Memory, teamID string) *model.CronJobState {
	t.Helper()
	doc, err := mem.Get(context.Background(), model.CronMirrorRef(teamID))
	if err != nil {
		t.Fatalf("get mirror: %v", err)
	}
	var state model.CronJobState
	if err := doc.DataTo(&state); err != nil {
		t.Fatalf("decode mirror: %v", err)
	}
	return &state
}

func TestCreate_RequiresRefreshToken(t *testing.T) {
	s, mem := newStore()

	_, err := s.Create(context.Background(), testTeam(), "")
	if !errors.Is(err, cronjob.ErrMissingRefreshToken) {
		t.Fatalf("expected ErrMissingRefreshToken, got %v", err)
	}
	if mem.Len() != 0 {
		t.Errorf("expected nothing written, got %d documents", mem.Len())
	}
}

func TestCreate_WritesBothLocations(t *testing.T) {
	s, mem := newStore()
	ctx := context.Background()

	state, err := s.Create(ctx, testTeam(), "refresh-token")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if state.CampaignsCount != 2 || state.OwnerRefreshToken != "refresh-token" {
		t.Errorf("unexpected state: %+v", state)
	}

	if !mem.Exists(model.CronJobRef("t1")) || !mem.Exists(model.CronMirrorRef("t1")) {
		t.Fatal("expected records at both locations")
	}
	if n := len(mem.Commits()); n != 1 {
		t.Errorf("expected one atomic commit, got %d", n)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TeamID != "t1" || got.OwnerID != "owner-1" || got.IsCronFailing {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.LastCronJob.Equal(fixedNow) {
		t.Errorf("expected lastCronJob %v, got %v", fixedNow, got.LastCronJob)
	}
	if !got.LastFailedCronJob.Equal(time.Unix(0, 0)) {
		t.Errorf("expected lastFailedCronJob at the epoch, got %v", got.LastFailedCronJob)
	}
	if !slices.Equal(got.CampaignsByCustomer["x"], []string{"c1", "c2"}) {
		t.Errorf("unexpected campaigns: %v", got.CampaignsByCustomer)
	}
}

func TestCreate_MergesIntoExisting(t *testing.T) {
	s, mem := newStore()
	if err := mem.Seed(model.CronMirrorRef("t1"), map[string]any{"schedule": "hourly"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := s.Create(context.Background(), testTeam(), "refresh-token"); err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, err := mem.Get(context.Background(), model.CronMirrorRef("t1"))
	if err != nil {
		t.Fatalf("get mirror: %v", err)
	}
	if _, ok := doc.Raw["schedule"]; !ok {
		t.Error("expected unrelated fields to survive the merge")
	}
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newStore()

	_, err := s.Get(context.Background(), "t1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMirror(t *testing.T) {
	s, mem := newStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, testTeam(), "refresh-token"); err != nil {
		t.Fatalf("create: %v", err)
	}

	team := testTeam()
	team.CampaignsByCustomer = model.CampaignsByCustomer{"x": {"c2"}, "y": {"c3", "c4"}}
	if err := s.Mirror(ctx, team); err != nil {
		t.Fatalf("mirror: %v", err)
	}

	for _, got := range []*model.CronJobState{mustGet(t, s, "t1"), readMirror(t, mem, "t1")} {
		if got.CampaignsCount != 3 {
			t.Errorf("expected campaignsCount 3, got %d", got.CampaignsCount)
		}
		if !slices.Equal(got.CampaignsByCustomer["y"], []string{"c3", "c4"}) {
			t.Errorf("unexpected campaigns: %v", got.CampaignsByCustomer)
		}
		if got.OwnerRefreshToken != "refresh-token" {
			t.Error("expected the refresh token to be kept")
		}
	}
}

func TestMirror_MissingRecord(t *testing.T) {
	s, mem := newStore()

	err := s.Mirror(context.Background(), testTeam())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mem.Len() != 0 {
		t.Errorf("expected nothing written, got %d documents", mem.Len())
	}
}

func TestMarkRun(t *testing.T) {
	s, mem := newStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, testTeam(), "refresh-token"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.MarkRun(ctx, "t1", errors.New("token revoked")); err != nil {
		t.Fatalf("mark failed run: %v", err)
	}
	got := readMirror(t, mem, "t1")
	if !got.IsCronFailing || !got.LastFailedCronJob.Equal(fixedNow) {
		t.Errorf("expected a failing run at %v, got %+v", fixedNow, got)
	}

	if err := s.MarkRun(ctx, "t1", nil); err != nil {
		t.Fatalf("mark run: %v", err)
	}
	got = mustGet(t, s, "t1")
	if got.IsCronFailing {
		t.Error("expected isCronFailing to be cleared")
	}
	if !got.LastFailedCronJob.Equal(fixedNow) {
		t.Error("expected lastFailedCronJob to be kept")
	}
}

func TestUpdate_EmptyPatch(t *testing.T) {
	s, mem := newStore()

	if err := s.Update(context.Background(), "t1", model.CronJobPatch{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if n := len(mem.Commits()); n != 0 {
		t.Errorf("expected no commits, got %d", n)
	}
}

func TestRemove(t *testing.T) {
	s, mem := newStore()
	ctx := context.Background()
	if _, err := s.Create(ctx, testTeam(), "refresh-token"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Remove(ctx, "t1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if mem.Exists(model.CronJobRef("t1")) || mem.Exists(model.CronMirrorRef("t1")) {
		t.Error("expected both records to be deleted")
	}
	if err := s.Remove(ctx, "t1"); err != nil {
		t.Errorf("expected removing a missing record to succeed, got %v", err)
	}
}

func mustGet(t *testing.T, s *cronjob.Store, teamID string) *model.CronJobState {
	t.Helper()
	got, err := s.Get(context.Background(), teamID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return got
}
