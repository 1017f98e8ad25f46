package stream_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/teamsync/cronjob"
	"github.com/jacentio/teamsync/internal/shard"
	"github.com/jacentio/teamsync/model"
	"github.com/jacentio/teamsync/store"
	"github.com/jacentio/teamsync/store/storetest"
	"github.com/jacentio/teamsync/stream"
)

// streamValue converts an SDK attribute value into its stream form.
func streamValue(av types.AttributeValue) events.DynamoDBAttributeValue {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return events.NewStringAttribute(v.Value)
	case *types.AttributeValueMemberN:
		return events.NewNumberAttribute(v.Value)
	case *types.AttributeValueMemberBOOL:
		return events.NewBooleanAttribute(v.Value)
	case *types.AttributeValueMemberL:
		list := make([]events.DynamoDBAttributeValue, len(v.Value))
		for i, item := range v.Value {
			list[i] = streamValue(item)
		}
		return events.NewListAttribute(list)
	case *types.AttributeValueMemberM:
		return events.NewMapAttribute(streamMap(v.Value))
	default:
		return events.NewNullAttribute()
	}
}

func streamMap(item map[string]types.AttributeValue) map[string]events.DynamoDBAttributeValue {
	out := make(map[string]events.DynamoDBAttributeValue, len(item))
	for k, v := range item {
		out[k] = streamValue(v)
	}
	return out
}

func streamKeys(ref store.DocRef) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"pk": events.NewStringAttribute(shard.CollectionPK(ref.Parent.Path(), ref.ID, 1)),
		"sk": events.NewStringAttribute(ref.ID),
	}
}

func teamImage(t *testing.T, team *model.Team) map[string]events.DynamoDBAttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(team)
	if err != nil {
		t.Fatalf("marshal team: %v", err)
	}
	image := streamMap(item)
	for k, v := range streamKeys(model.TeamRef(team.TeamID)) {
		image[k] = v
	}
	return image
}

func record(t *testing.T, name string, old, updated *model.Team) events.DynamoDBEventRecord {
	t.Helper()
	r := events.DynamoDBEventRecord{EventID: name + "-1", EventName: name}
	for _, team := range []*model.Team{old, updated} {
		if team != nil {
			r.Change.Keys = streamKeys(model.TeamRef(team.TeamID))
		}
	}
	if old != nil {
		r.Change.OldImage = teamImage(t, old)
	}
	if updated != nil {
		r.Change.NewImage = teamImage(t, updated)
	}
	return r
}

func team(campaigns model.CampaignsByCustomer) *model.Team {
	return &model.Team{
		TeamID:              "t1",
		Name:                "Growth",
		OwnerID:             "owner-1",
		Members:             map[string]model.Member{},
		CampaignsByCustomer: campaigns,
		CampaignsCount:      campaigns.Count(),
	}
}

type fixture struct {
	mem  *storetest.Memory
	cron *cronjob.Store
	h    *stream.Handler
}

func newFixture(t *testing.T, withCronJob bool) *fixture {
	t.Helper()
	mem := storetest.NewMemory(0)
	cron := cronjob.New(mem, nil, func() time.Time { return time.Unix(1700000000, 0) })
	if withCronJob {
		if _, err := cron.Create(context.Background(), team(model.CampaignsByCustomer{"x": {"c1"}}), "token"); err != nil {
			t.Fatalf("create cron job: %v", err)
		}
		mem.ResetCalls()
	}
	return &fixture{mem: mem, cron: cron, h: stream.NewHandler(cron, nil)}
}

func TestNewHandler(t *testing.T) {
	// Nil collaborators should not panic.
	h := stream.NewHandler(nil, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

func TestHandleTeamChanges_EmptyEvent(t *testing.T) {
	h := stream.NewHandler(nil, nil)

	if err := h.HandleTeamChanges(context.Background(), events.DynamoDBEvent{}); err != nil {
		t.Errorf("expected no error for empty event, got %v", err)
	}
}

func TestHandleTeamChanges_MirrorsAggregate(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	old := team(model.CampaignsByCustomer{"x": {"c1"}})
	updated := team(model.CampaignsByCustomer{"x": {"c1", "c2"}, "y": {}})
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record(t, "MODIFY", old, updated)}}

	if err := f.h.HandleTeamChanges(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := f.cron.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get cron job: %v", err)
	}
	if got.CampaignsCount != 2 {
		t.Errorf("expected campaignsCount 2, got %d", got.CampaignsCount)
	}
	if !slices.Equal(got.CampaignsByCustomer["x"], []string{"c1", "c2"}) || !got.CampaignsByCustomer.Has("y") {
		t.Errorf("unexpected campaigns: %v", got.CampaignsByCustomer)
	}
}

func TestHandleTeamChanges_SkipsUnchangedAggregate(t *testing.T) {
	f := newFixture(t, true)

	old := team(model.CampaignsByCustomer{"x": {"c1"}})
	updated := team(model.CampaignsByCustomer{"x": {"c1"}})
	updated.Name = "Renamed"
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{record(t, "MODIFY", old, updated)}}

	if err := f.h.HandleTeamChanges(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := len(f.mem.Commits()); n != 0 {
		t.Errorf("expected no writes, got %d commits", n)
	}
}

func TestHandleTeamChanges_SkipsTeamWithoutCronJob(t *testing.T) {
	f := newFixture(t, false)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record(t, "INSERT", nil, team(model.CampaignsByCustomer{})),
		record(t, "MODIFY", team(model.CampaignsByCustomer{}), team(model.CampaignsByCustomer{"x": {"c1"}})),
	}}

	if err := f.h.HandleTeamChanges(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.mem.Len() != 0 {
		t.Errorf("expected no cron job to be created, got %d documents", f.mem.Len())
	}
}

func TestHandleTeamChanges_RemoveDeletesCronJob(t *testing.T) {
	f := newFixture(t, true)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record(t, "REMOVE", team(model.CampaignsByCustomer{"x": {"c1"}}), nil),
	}}

	if err := f.h.HandleTeamChanges(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.mem.Exists(model.CronJobRef("t1")) || f.mem.Exists(model.CronMirrorRef("t1")) {
		t.Error("expected both cron job records to be deleted")
	}
}

func TestHandleTeamChanges_IgnoresOtherCollections(t *testing.T) {
	f := newFixture(t, true)

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		{
			EventName: "REMOVE",
			Change: events.DynamoDBStreamRecord{
				Keys: streamKeys(model.CustomerRef("c1")),
			},
		},
		{
			EventName: "REMOVE",
			Change: events.DynamoDBStreamRecord{
				Keys: streamKeys(model.CronJobRef("t1")),
			},
		},
		{
			EventName: "MODIFY",
			Change: events.DynamoDBStreamRecord{
				Keys: map[string]events.DynamoDBAttributeValue{
					"id": events.NewStringAttribute("legacy"),
				},
			},
		},
	}}

	if err := f.h.HandleTeamChanges(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := len(f.mem.Commits()); n != 0 {
		t.Errorf("expected no writes, got %d commits", n)
	}
}

func TestHandleTeamChanges_StopsOnError(t *testing.T) {
	f := newFixture(t, true)
	f.mem.FailCommit = func(int, []store.Op) error { return errors.New("throttled") }

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		record(t, "REMOVE", team(model.CampaignsByCustomer{}), nil),
		record(t, "MODIFY", team(model.CampaignsByCustomer{}), team(model.CampaignsByCustomer{"x": {"c1"}})),
	}}

	err := f.h.HandleTeamChanges(context.Background(), event)
	if err == nil {
		t.Fatal("expected an error")
	}
	if n := len(f.mem.Commits()); n != 1 {
		t.Errorf("expected processing to stop after the first failure, got %d commits", n)
	}
}
