package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/teamsync/internal/shard"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store provides hierarchical document operations over a single DynamoDB table.
type Store struct {
	client API
	config Config
}

var _ Client = (*Store)(nil)

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// MaxBatchOps returns the operation limit of one Commit.
func (s *Store) MaxBatchOps() int {
	return s.config.MaxBatchOps
}

// key computes the primary key of a document.
func (s *Store) key(ref DocRef) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: shard.CollectionPK(ref.Parent.Path(), ref.ID, s.config.NumShards)},
		attrSK: &types.AttributeValueMemberS{Value: ref.ID},
	}
}

// itemFor encodes v and adds the storage keys of ref.
func (s *Store) itemFor(ref DocRef, v any) (map[string]types.AttributeValue, error) {
	item, err := EncodeFields(v)
	if err != nil {
		return nil, err
	}
	for k, av := range s.key(ref) {
		item[k] = av
	}
	return item, nil
}

// Get retrieves a document by reference, returning ErrNotFound if missing.
func (s *Store) Get(ctx context.Context, ref DocRef) (*Doc, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.Table),
		Key:       s.key(ref),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return &Doc{Ref: ref, Raw: stripKeys(result.Item)}, nil
}

// GetAll retrieves many documents with BatchGetItem.
// The result is order-matched to refs; missing documents are nil.
func (s *Store) GetAll(ctx context.Context, refs []DocRef) ([]*Doc, error) {
	unique := make([]DocRef, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
		if seen[ref.Path()] {
			continue
		}
		seen[ref.Path()] = true
		unique = append(unique, ref)
	}

	found := make(map[string]map[string]types.AttributeValue, len(unique))
	for start := 0; start < len(unique); start += maxBatchGetKeys {
		end := min(start+maxBatchGetKeys, len(unique))
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, ref := range unique[start:end] {
			keys = append(keys, s.key(ref))
		}
		if err := s.batchGet(ctx, keys, found); err != nil {
			return nil, err
		}
	}

	docs := make([]*Doc, len(refs))
	for i, ref := range refs {
		if item, ok := found[itemKey(s.key(ref))]; ok {
			docs[i] = &Doc{Ref: ref, Raw: stripKeys(item)}
		}
	}
	return docs, nil
}

// batchGet issues BatchGetItem until DynamoDB reports no unprocessed keys.
func (s *Store) batchGet(ctx context.Context, keys []map[string]types.AttributeValue, found map[string]map[string]types.AttributeValue) error {
	request := map[string]types.KeysAndAttributes{
		s.config.Table: {Keys: keys},
	}
	for len(request) > 0 {
		result, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: request,
		})
		if err != nil {
			return err
		}
		for _, item := range result.Responses[s.config.Table] {
			found[itemKey(item)] = item
		}
		request = nil
		if pending, ok := result.UnprocessedKeys[s.config.Table]; ok && len(pending.Keys) > 0 {
			request = map[string]types.KeysAndAttributes{s.config.Table: pending}
		}
	}
	return nil
}

// itemKey renders the storage key of an item for map lookups.
func itemKey(item map[string]types.AttributeValue) string {
	var pk, sk string
	if v, ok := item[attrPK].(*types.AttributeValueMemberS); ok {
		pk = v.Value
	}
	if v, ok := item[attrSK].(*types.AttributeValueMemberS); ok {
		sk = v.Value
	}
	return pk + "\x00" + sk
}

// Create stores v under a generated id, failing with ErrAlreadyExists on collision.
func (s *Store) Create(ctx context.Context, collection CollectionRef, v any) (DocRef, error) {
	if err := collection.Validate(); err != nil {
		return DocRef{}, err
	}
	ref := collection.Doc(uuid.NewString())
	item, err := s.itemFor(ref, v)
	if err != nil {
		return DocRef{}, err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.config.Table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return DocRef{}, ErrAlreadyExists
		}
		return DocRef{}, err
	}
	return ref, nil
}

// Set replaces the document at ref, or merges top-level fields when Merge() is given.
func (s *Store) Set(ctx context.Context, ref DocRef, v any, opts ...SetOption) error {
	op := SetOp(ref, v)
	if applySetOptions(opts).merge {
		op = MergeOp(ref, v)
	}
	item, err := s.transactItem(op)
	if err != nil {
		return err
	}
	if item.Put != nil {
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: item.Put.TableName,
			Item:      item.Put.Item,
		})
		return err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 item.Update.TableName,
		Key:                       item.Update.Key,
		UpdateExpression:          item.Update.UpdateExpression,
		ExpressionAttributeNames:  item.Update.ExpressionAttributeNames,
		ExpressionAttributeValues: item.Update.ExpressionAttributeValues,
	})
	return err
}

// Update sets fields on an existing document, returning ErrNotFound if it is missing.
func (s *Store) Update(ctx context.Context, ref DocRef, fields map[string]any) error {
	item, err := s.transactItem(UpdateOp(ref, fields))
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 item.Update.TableName,
		Key:                       item.Update.Key,
		UpdateExpression:          item.Update.UpdateExpression,
		ConditionExpression:       item.Update.ConditionExpression,
		ExpressionAttributeNames:  item.Update.ExpressionAttributeNames,
		ExpressionAttributeValues: item.Update.ExpressionAttributeValues,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("update %s: %w", ref.Path(), ErrNotFound)
		}
		return err
	}
	return nil
}

// Delete removes the document at ref.
func (s *Store) Delete(ctx context.Context, ref DocRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.Table),
		Key:       s.key(ref),
	})
	return err
}

// Query returns the documents of a collection matching every equality filter.
// Results are ordered by shard, then by document id.
func (s *Store) Query(ctx context.Context, collection CollectionRef, filters ...Filter) ([]*Doc, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	filter, err := buildFilterExpression(filters)
	if err != nil {
		return nil, err
	}

	numShards := s.config.NumShards
	if numShards < 1 {
		numShards = 1
	}

	// Fast path for single shard (default)
	if numShards == 1 {
		return s.queryShard(ctx, collection, shard.ShardPK(collection.Path(), 0), filter)
	}

	// Multi-shard fan-out; each shard writes only its own slot
	results := make([][]*Doc, numShards)
	g, gctx := errgroup.WithContext(ctx)
	for shardNum := 0; shardNum < numShards; shardNum++ {
		g.Go(func() error {
			docs, err := s.queryShard(gctx, collection, shard.ShardPK(collection.Path(), shardNum), filter)
			if err != nil {
				return fmt.Errorf("shard %02x: %w", shardNum, err)
			}
			results[shardNum] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var docs []*Doc
	for _, shardDocs := range results {
		docs = append(docs, shardDocs...)
	}
	return docs, nil
}

func (s *Store) queryShard(ctx context.Context, collection CollectionRef, shardPK string, filter filterExpression) ([]*Doc, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.Table),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: mergeExprNames(
			map[string]string{"#pk": attrPK},
			filter.Names,
		),
		ExpressionAttributeValues: mergeExprValues(
			map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: shardPK}},
			filter.Values,
		),
	}
	if filter.Expr != "" {
		input.FilterExpression = aws.String(filter.Expr)
	}

	var docs []*Doc
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			sk, _ := item[attrSK].(*types.AttributeValueMemberS)
			if sk == nil {
				continue
			}
			docs = append(docs, &Doc{Ref: collection.Doc(sk.Value), Raw: stripKeys(item)})
		}
	}
	return docs, nil
}

// Commit applies ops in one TransactWriteItems call.
func (s *Store) Commit(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > s.config.MaxBatchOps {
		return fmt.Errorf("%w: %d > %d", ErrTooManyOps, len(ops), s.config.MaxBatchOps)
	}

	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		item, err := s.transactItem(op)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapCommitError(err, ops)
}

// transactItem converts an Op into its DynamoDB transaction item.
func (s *Store) transactItem(op Op) (types.TransactWriteItem, error) {
	if err := op.Ref.Validate(); err != nil {
		return types.TransactWriteItem{}, err
	}
	table := aws.String(s.config.Table)

	switch op.Kind {
	case OpSet:
		item, err := s.itemFor(op.Ref, op.Value)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Put: &types.Put{TableName: table, Item: item}}, nil

	case OpMerge:
		fields, err := EncodeFields(op.Value)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		expr, err := buildSetExpression(stripKeys(fields))
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 table,
			Key:                       s.key(op.Ref),
			UpdateExpression:          aws.String(expr.Expr),
			ExpressionAttributeNames:  expr.Names,
			ExpressionAttributeValues: expr.Values,
		}}, nil

	case OpUpdate:
		fields, err := encodeUpdateFields(op.Fields)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		expr, err := buildSetExpression(fields)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 table,
			Key:                       s.key(op.Ref),
			UpdateExpression:          aws.String(expr.Expr),
			ConditionExpression:       aws.String("attribute_exists(#pk)"),
			ExpressionAttributeNames:  mergeExprNames(expr.Names, map[string]string{"#pk": attrPK}),
			ExpressionAttributeValues: expr.Values,
		}}, nil

	case OpDelete:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName: table,
			Key:       s.key(op.Ref),
		}}, nil

	default:
		return types.TransactWriteItem{}, fmt.Errorf("%w: unknown op kind %v", ErrInvalidArgument, op.Kind)
	}
}

// mapCommitError maps DynamoDB transaction errors for Commit.
// A failed condition can only come from an update of a missing document.
func mapCommitError(err error, ops []Op) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" && i < len(ops) {
				return fmt.Errorf("%s: %w", ops[i], ErrNotFound)
			}
		}
	}

	return err
}
