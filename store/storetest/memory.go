// Package storetest provides an in-memory store.Client for tests.
//
// Memory applies commits atomically on a copy of its state, records every
// multi-get and commit it serves, and lets tests inject failures into
// specific calls.
package storetest

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/teamsync/store"
)

// DefaultMaxBatchOps mirrors the Firestore batch limit.
const DefaultMaxBatchOps = 500

type memDoc struct {
	ref    store.DocRef
	fields map[string]types.AttributeValue
}

// Memory is an in-memory store.Client.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]memDoc
	maxOps int

	commits     [][]store.Op
	getAllCalls [][]store.DocRef
	queryCalls  int

	// FailCommit, when set, is consulted before every Commit with the 1-based
	// call number. A non-nil error aborts that commit with no effects.
	FailCommit func(call int, ops []store.Op) error

	// FailGetAll, when set, is consulted before every GetAll.
	FailGetAll func(call int, refs []store.DocRef) error
}

var _ store.Client = (*Memory)(nil)

// NewMemory returns an empty store with the given commit limit
// (DefaultMaxBatchOps when maxOps <= 0).
func NewMemory(maxOps int) *Memory {
	if maxOps <= 0 {
		maxOps = DefaultMaxBatchOps
	}
	return &Memory{
		docs:   map[string]memDoc{},
		maxOps: maxOps,
	}
}

// MaxBatchOps returns the operation limit of one Commit.
func (m *Memory) MaxBatchOps() int {
	return m.maxOps
}

// Get returns the document at ref, or store.ErrNotFound.
func (m *Memory) Get(ctx context.Context, ref store.DocRef) (*store.Doc, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[ref.Path()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Doc{Ref: ref, Raw: cloneFields(d.fields)}, nil
}

// GetAll returns one entry per ref, nil for missing documents.
func (m *Memory) GetAll(ctx context.Context, refs []store.DocRef) ([]*store.Doc, error) {
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getAllCalls = append(m.getAllCalls, append([]store.DocRef(nil), refs...))
	if m.FailGetAll != nil {
		if err := m.FailGetAll(len(m.getAllCalls), refs); err != nil {
			return nil, err
		}
	}
	docs := make([]*store.Doc, len(refs))
	for i, ref := range refs {
		if d, ok := m.docs[ref.Path()]; ok {
			docs[i] = &store.Doc{Ref: ref, Raw: cloneFields(d.fields)}
		}
	}
	return docs, nil
}

// Create stores v under a generated id.
func (m *Memory) Create(ctx context.Context, collection store.CollectionRef, v any) (store.DocRef, error) {
	if err := collection.Validate(); err != nil {
		return store.DocRef{}, err
	}
	fields, err := store.EncodeFields(v)
	if err != nil {
		return store.DocRef{}, err
	}
	ref := collection.Doc(uuid.NewString())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[ref.Path()]; ok {
		return store.DocRef{}, store.ErrAlreadyExists
	}
	m.docs[ref.Path()] = memDoc{ref: ref, fields: fields}
	return ref, nil
}

// Set replaces or merges the document at ref.
func (m *Memory) Set(ctx context.Context, ref store.DocRef, v any, opts ...store.SetOption) error {
	op := store.SetOp(ref, v)
	if store.MergeRequested(opts) {
		op = store.MergeOp(ref, v)
	}
	return m.apply(op)
}

// Update sets fields on an existing document.
func (m *Memory) Update(ctx context.Context, ref store.DocRef, fields map[string]any) error {
	return m.apply(store.UpdateOp(ref, fields))
}

// Delete removes the document at ref.
func (m *Memory) Delete(ctx context.Context, ref store.DocRef) error {
	return m.apply(store.DeleteOp(ref))
}

func (m *Memory) apply(op store.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := maps.Clone(m.docs)
	if err := applyOp(next, op); err != nil {
		return err
	}
	m.docs = next
	return nil
}

// Query returns the documents of collection matching every filter, ordered by id.
func (m *Memory) Query(ctx context.Context, collection store.CollectionRef, filters ...store.Filter) ([]*store.Doc, error) {
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	want := make(map[string]any, len(filters))
	for _, f := range filters {
		av, err := attributevalue.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: encode filter %q: %v", store.ErrInvalidArgument, f.Field, err)
		}
		want[f.Field] = decodeAny(av)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++

	path := collection.Path()
	var docs []*store.Doc
	for _, d := range m.docs {
		if d.ref.Parent.Path() != path || !matches(d.fields, want) {
			continue
		}
		docs = append(docs, &store.Doc{Ref: d.ref, Raw: cloneFields(d.fields)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Ref.ID < docs[j].Ref.ID })
	return docs, nil
}

func matches(fields map[string]types.AttributeValue, want map[string]any) bool {
	for field, value := range want {
		av, ok := fields[field]
		if !ok || !reflect.DeepEqual(decodeAny(av), value) {
			return false
		}
	}
	return true
}

func decodeAny(av types.AttributeValue) any {
	var v any
	if err := attributevalue.Unmarshal(av, &v); err != nil {
		return nil
	}
	return v
}

// Commit applies ops atomically.
func (m *Memory) Commit(ctx context.Context, ops []store.Op) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > m.maxOps {
		return fmt.Errorf("%w: %d > %d", store.ErrTooManyOps, len(ops), m.maxOps)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, append([]store.Op(nil), ops...))
	if m.FailCommit != nil {
		if err := m.FailCommit(len(m.commits), ops); err != nil {
			return err
		}
	}

	next := maps.Clone(m.docs)
	for _, op := range ops {
		if err := applyOp(next, op); err != nil {
			return err
		}
	}
	m.docs = next
	return nil
}

// applyOp applies op to docs, replacing (never mutating) any touched document.
func applyOp(docs map[string]memDoc, op store.Op) error {
	if err := op.Ref.Validate(); err != nil {
		return err
	}
	path := op.Ref.Path()

	switch op.Kind {
	case store.OpSet:
		fields, err := store.EncodeFields(op.Value)
		if err != nil {
			return err
		}
		docs[path] = memDoc{ref: op.Ref, fields: fields}

	case store.OpMerge:
		fields, err := store.EncodeFields(op.Value)
		if err != nil {
			return err
		}
		merged := map[string]types.AttributeValue{}
		if d, ok := docs[path]; ok {
			merged = cloneFields(d.fields)
		}
		maps.Copy(merged, fields)
		docs[path] = memDoc{ref: op.Ref, fields: merged}

	case store.OpUpdate:
		d, ok := docs[path]
		if !ok {
			return fmt.Errorf("%s: %w", op, store.ErrNotFound)
		}
		if len(op.Fields) == 0 {
			return fmt.Errorf("%w: update has no fields", store.ErrInvalidArgument)
		}
		updated := cloneFields(d.fields)
		for fieldPath, v := range op.Fields {
			segments, err := store.SplitFieldPath(fieldPath)
			if err != nil {
				return err
			}
			av, err := attributevalue.Marshal(v)
			if err != nil {
				return fmt.Errorf("%w: encode field %q: %v", store.ErrInvalidArgument, fieldPath, err)
			}
			if err := setPath(updated, segments, av); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
		docs[path] = memDoc{ref: op.Ref, fields: updated}

	case store.OpDelete:
		delete(docs, path)

	default:
		return fmt.Errorf("%w: unknown op kind %v", store.ErrInvalidArgument, op.Kind)
	}
	return nil
}

// setPath sets a nested field. Intermediate maps must already exist, as in DynamoDB.
func setPath(fields map[string]types.AttributeValue, segments []string, av types.AttributeValue) error {
	if len(segments) == 1 {
		fields[segments[0]] = av
		return nil
	}
	parent, ok := fields[segments[0]].(*types.AttributeValueMemberM)
	if !ok {
		return fmt.Errorf("%w: %q is not a map", store.ErrInvalidArgument, segments[0])
	}
	return setPath(parent.Value, segments[1:], av)
}

func cloneFields(fields map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(fields))
	for k, v := range fields {
		out[k] = cloneAV(v)
	}
	return out
}

func cloneAV(av types.AttributeValue) types.AttributeValue {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: v.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), v.Value...)}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: v.Value}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), v.Value...)}
	case *types.AttributeValueMemberBS:
		bs := make([][]byte, len(v.Value))
		for i, b := range v.Value {
			bs[i] = append([]byte(nil), b...)
		}
		return &types.AttributeValueMemberBS{Value: bs}
	case *types.AttributeValueMemberL:
		list := make([]types.AttributeValue, len(v.Value))
		for i, item := range v.Value {
			list[i] = cloneAV(item)
		}
		return &types.AttributeValueMemberL{Value: list}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: cloneFields(v.Value)}
	default:
		return av
	}
}

// Seed writes v at ref without recording a commit.
func (m *Memory) Seed(ref store.DocRef, v any) error {
	return m.apply(store.SetOp(ref, v))
}

// Exists reports whether a document is stored at ref.
func (m *Memory) Exists(ref store.DocRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[ref.Path()]
	return ok
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Commits returns the op lists of every Commit call, including failed ones.
func (m *Memory) Commits() [][]store.Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]store.Op, len(m.commits))
	for i, ops := range m.commits {
		out[i] = append([]store.Op(nil), ops...)
	}
	return out
}

// GetAllCalls returns the refs of every GetAll call.
func (m *Memory) GetAllCalls() [][]store.DocRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]store.DocRef, len(m.getAllCalls))
	for i, refs := range m.getAllCalls {
		out[i] = append([]store.DocRef(nil), refs...)
	}
	return out
}

// QueryCalls returns the number of Query calls served.
func (m *Memory) QueryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls
}

// ResetCalls forgets recorded calls, keeping stored documents.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = nil
	m.getAllCalls = nil
	m.queryCalls = 0
}
