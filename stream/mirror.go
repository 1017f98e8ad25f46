// Package stream provides DynamoDB Streams handlers that keep derived records
// in step with team changes.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/teamsync/model"
	"github.com/jacentio/teamsync/store"
)

// CronJobs is the cron job surface the handler writes through.
// *cronjob.Store implements it.
type CronJobs interface {
	Mirror(ctx context.Context, team *model.Team) error
	Remove(ctx context.Context, teamID string) error
}

// Handler mirrors team aggregate changes into cron job records.
type Handler struct {
	cron   CronJobs
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(cron CronJobs, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cron:   cron,
		logger: logger,
	}
}

// HandleTeamChanges processes DynamoDB stream events for the document table.
// Records outside the teams collection are ignored. It is designed to be used
// as an AWS Lambda handler; a returned error makes Lambda retry the batch.
func (h *Handler) HandleTeamChanges(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process record",
				"eventID", record.EventID,
				"eventName", record.EventName,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// processRecord handles a single stream record.
func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	ref, ok := teamRef(record.Change.Keys)
	if !ok {
		return nil
	}

	switch record.EventName {
	case "REMOVE":
		if err := h.cron.Remove(ctx, ref.ID); err != nil {
			return fmt.Errorf("remove cron job: %w", err)
		}
		return nil

	case "INSERT", "MODIFY":
		if record.Change.NewImage == nil {
			h.logger.WarnContext(ctx, "stream record has no new image", "teamId", ref.ID)
			return nil
		}
		team, err := decodeTeam(ref, record.Change.NewImage)
		if err != nil {
			return err
		}
		if record.EventName == "MODIFY" && record.Change.OldImage != nil {
			old, err := decodeTeam(ref, record.Change.OldImage)
			if err != nil {
				return err
			}
			if !aggregateChanged(old, team) {
				return nil
			}
		}

		err = h.cron.Mirror(ctx, team)
		if errors.Is(err, store.ErrNotFound) {
			h.logger.DebugContext(ctx, "team has no cron job", "teamId", ref.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("mirror cron job: %w", err)
		}
		h.logger.InfoContext(ctx, "cron job mirrored",
			"teamId", ref.ID,
			"campaignsCount", team.CampaignsCount,
		)
		return nil

	default:
		return nil
	}
}

// teamRef returns the reference of a root teams document from stream keys.
func teamRef(keys map[string]events.DynamoDBAttributeValue) (store.DocRef, bool) {
	doc, err := store.DocFromItem(ConvertImage(keys))
	if err != nil {
		return store.DocRef{}, false
	}
	ref := doc.Ref
	if ref.Parent.Parent != nil || ref.Parent.Name != model.TeamsCollection {
		return store.DocRef{}, false
	}
	return ref, true
}

func decodeTeam(ref store.DocRef, image map[string]events.DynamoDBAttributeValue) (*model.Team, error) {
	doc := &store.Doc{Ref: ref, Raw: ConvertImage(image)}
	var team model.Team
	if err := doc.DataTo(&team); err != nil {
		return nil, err
	}
	if team.TeamID == "" {
		team.TeamID = ref.ID
	}
	return &team, nil
}

// aggregateChanged reports whether the denormalized campaign index differs.
func aggregateChanged(old, updated *model.Team) bool {
	if old.CampaignsCount != updated.CampaignsCount {
		return true
	}
	return !maps.EqualFunc(old.CampaignsByCustomer.Clone(), updated.CampaignsByCustomer.Clone(), func(a, b []string) bool {
		return slices.Equal(a, b)
	})
}

// ConvertImage converts a DynamoDB stream image into SDK attribute values,
// recursing into lists and maps.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertValue(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	default:
		return nil
	}
}
