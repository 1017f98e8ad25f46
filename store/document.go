package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/teamsync/internal/shard"
)

// Client is the document-store surface the rest of the module depends on.
// *Store implements it over DynamoDB; storetest.Memory implements it in memory.
type Client interface {
	// Get returns the document at ref, or ErrNotFound.
	Get(ctx context.Context, ref DocRef) (*Doc, error)

	// GetAll returns one entry per ref, in order. Missing documents are nil.
	GetAll(ctx context.Context, refs []DocRef) ([]*Doc, error)

	// Create stores v under a generated id in collection.
	Create(ctx context.Context, collection CollectionRef, v any) (DocRef, error)

	// Set replaces the document at ref, or merges top-level fields with Merge().
	Set(ctx context.Context, ref DocRef, v any, opts ...SetOption) error

	// Update sets the given fields on an existing document. Field paths may be
	// dotted ("members.u1") to reach into nested maps.
	Update(ctx context.Context, ref DocRef, fields map[string]any) error

	// Delete removes the document at ref. Deleting a missing document is not an error.
	Delete(ctx context.Context, ref DocRef) error

	// Query returns the documents of collection matching every filter.
	Query(ctx context.Context, collection CollectionRef, filters ...Filter) ([]*Doc, error)

	// Commit applies ops atomically. len(ops) must not exceed MaxBatchOps.
	Commit(ctx context.Context, ops []Op) error

	// MaxBatchOps returns the operation limit of one Commit.
	MaxBatchOps() int
}

// Doc is a retrieved document.
type Doc struct {
	Ref DocRef

	// Raw holds the document fields, without storage keys.
	Raw map[string]types.AttributeValue
}

// DataTo decodes the document into v, which must be a pointer to a struct or map.
func (d *Doc) DataTo(v any) error {
	if err := attributevalue.UnmarshalMap(d.Raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Ref.Path(), err)
	}
	return nil
}

// DocFromItem rebuilds a document from a raw table item, such as a stream
// image, using its storage keys to recover the reference.
func DocFromItem(item map[string]types.AttributeValue) (*Doc, error) {
	pk, _ := item[attrPK].(*types.AttributeValueMemberS)
	sk, _ := item[attrSK].(*types.AttributeValueMemberS)
	if pk == nil || sk == nil {
		return nil, fmt.Errorf("%w: item has no storage keys", ErrInvalidArgument)
	}
	collection, _, ok := shard.SplitPK(pk.Value)
	if !ok {
		return nil, fmt.Errorf("%w: malformed partition key %q", ErrInvalidArgument, pk.Value)
	}
	ref, err := ParseDocPath(collection + "/" + sk.Value)
	if err != nil {
		return nil, err
	}
	return &Doc{Ref: ref, Raw: stripKeys(item)}, nil
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Where returns an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// SetOption configures Set.
type SetOption func(*setOptions)

type setOptions struct {
	merge bool
}

// Merge makes Set merge top-level fields into an existing document instead of replacing it.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// MergeRequested reports whether opts include Merge().
func MergeRequested(opts []SetOption) bool {
	return applySetOptions(opts).merge
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// OpKind identifies the kind of a write operation.
type OpKind int

const (
	// OpSet replaces a document.
	OpSet OpKind = iota
	// OpMerge merges top-level fields into a document, creating it if missing.
	OpMerge
	// OpUpdate sets fields on an existing document.
	OpUpdate
	// OpDelete removes a document.
	OpDelete
)

// String implements fmt.Stringer.
func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpMerge:
		return "merge"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op is one write inside an atomic commit.
type Op struct {
	Kind   OpKind
	Ref    DocRef
	Value  any
	Fields map[string]any
}

// SetOp replaces the document at ref with v.
func SetOp(ref DocRef, v any) Op {
	return Op{Kind: OpSet, Ref: ref, Value: v}
}

// MergeOp merges the top-level fields of v into the document at ref.
func MergeOp(ref DocRef, v any) Op {
	return Op{Kind: OpMerge, Ref: ref, Value: v}
}

// UpdateOp sets fields on the existing document at ref.
func UpdateOp(ref DocRef, fields map[string]any) Op {
	return Op{Kind: OpUpdate, Ref: ref, Fields: fields}
}

// DeleteOp removes the document at ref.
func DeleteOp(ref DocRef) Op {
	return Op{Kind: OpDelete, Ref: ref}
}

// String implements fmt.Stringer.
func (o Op) String() string {
	return o.Kind.String() + " " + o.Ref.Path()
}

// EncodeFields marshals v into top-level document fields.
// v must encode to a map (struct or map value).
func EncodeFields(v any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode fields: %v", ErrInvalidArgument, err)
	}
	return item, nil
}
