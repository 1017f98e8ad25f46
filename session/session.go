// Package session holds the per-session loader registry.
//
// A Session is created for one logical unit of work (one request, one job run)
// and handed explicitly to whatever needs cached entity access. Loaders are
// created lazily, once per team or user, and are dropped with the Session.
// Values returned by loaders are shared snapshots: callers derive new values
// with the model Merge and Clone helpers instead of mutating them.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jacentio/teamsync/loader"
	"github.com/jacentio/teamsync/store"
)

// Options configures the loaders of a Session.
type Options struct {
	// Wait is the batch window of every loader. Zero uses loader.DefaultWait.
	Wait time.Duration

	// MaxBatch caps the keys per multi-get. Zero leaves batches uncapped.
	MaxBatch int

	// Logger receives debug logs of batch fetches. Nil uses slog.Default().
	Logger *slog.Logger
}

func (o Options) loaderOptions() []loader.Option {
	return []loader.Option{loader.WithWait(o.Wait), loader.WithMaxBatch(o.MaxBatch)}
}

// Session is the registry of loaders for one logical session.
type Session struct {
	client store.Client
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	teams map[string]*TeamLoaders
	users map[string]*UserLoaders
}

// New creates a Session over client.
func New(client store.Client, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client: client,
		opts:   opts,
		logger: logger,
		teams:  make(map[string]*TeamLoaders),
		users:  make(map[string]*UserLoaders),
	}
}

// Client returns the store the session reads from.
func (s *Session) Client() store.Client {
	return s.client
}

// Team returns the loaders scoped to teamID, creating them on first use.
func (s *Session) Team(teamID string) *TeamLoaders {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.teams[teamID]
	if !ok {
		tl = newTeamLoaders(s, teamID)
		s.teams[teamID] = tl
	}
	return tl
}

// User returns the loaders scoped to userID, creating them on first use.
func (s *Session) User(userID string) *UserLoaders {
	s.mu.Lock()
	defer s.mu.Unlock()
	ul, ok := s.users[userID]
	if !ok {
		ul = newUserLoaders(s, userID)
		s.users[userID] = ul
	}
	return ul
}

// fetchDocs builds a batch function that multi-gets refFor(key) for every key
// and decodes each found document into a fresh V. decorate, when set, fills
// fields derived from the document ref.
func fetchDocs[K comparable, V any](s *Session, kind string, refFor func(K) store.DocRef, decorate func(*V, store.DocRef)) loader.BatchFunc[K, *V] {
	return func(ctx context.Context, keys []K) ([]*V, error) {
		s.logger.DebugContext(ctx, "batch fetch", "kind", kind, "keys", len(keys))

		refs := make([]store.DocRef, len(keys))
		for i, k := range keys {
			refs[i] = refFor(k)
		}
		docs, err := s.client.GetAll(ctx, refs)
		if err != nil {
			return nil, err
		}

		values := make([]*V, len(keys))
		for i, doc := range docs {
			if doc == nil {
				continue
			}
			v, err := decode[V](doc, decorate)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return values, nil
	}
}

func decode[V any](doc *store.Doc, decorate func(*V, store.DocRef)) (*V, error) {
	v := new(V)
	if err := doc.DataTo(v); err != nil {
		return nil, err
	}
	if decorate != nil {
		decorate(v, doc.Ref)
	}
	return v, nil
}

// decodeAll decodes query results in order.
func decodeAll[V any](docs []*store.Doc, decorate func(*V, store.DocRef)) ([]*V, error) {
	out := make([]*V, 0, len(docs))
	for _, doc := range docs {
		v, err := decode[V](doc, decorate)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// present drops nil entries from a LoadMany result.
func present[V any](values []*V) []*V {
	out := make([]*V, 0, len(values))
	for _, v := range values {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}
