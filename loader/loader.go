// Package loader provides a generic per-key lookup coalescer with a
// session-scoped memoization cache.
//
// Every key requested while a batch window is open is collected and fetched
// with a single call to the batch function. The window opens with the first
// uncached key and closes after the configured wait, or as soon as MaxBatch
// keys are queued when a cap is set. Keys queued synchronously by LoadMany or a series of
// LoadThunk calls always share a window.
//
// Results are memoized for the lifetime of the Loader. There is no TTL: a
// Loader is meant to live for one logical session and be dropped with it.
// Callers that mutate the underlying data outside the Loader must Clear or
// Prime the affected keys.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLengthMismatch is returned to every key of a batch when the batch function
// returns a different number of values than keys.
var ErrLengthMismatch = errors.New("loader: batch function returned wrong number of values")

// BatchFunc fetches values for keys. It must return exactly one value per key,
// in key order, using the zero value for keys that do not exist. A non-nil
// error fails every key of the batch.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// Defaults for Option values.
const (
	DefaultWait     = time.Millisecond
	DefaultMaxBatch = 0 // no cap
)

// Option configures a Loader.
type Option func(*options)

type options struct {
	wait     time.Duration
	maxBatch int
}

// WithWait sets how long a batch window stays open after its first key.
func WithWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.wait = d
		}
	}
}

// WithMaxBatch caps the number of keys per batch function call.
func WithMaxBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatch = n
		}
	}
}

// result is a memoized, possibly still pending, lookup.
type result[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func resolved[V any](value V) *result[V] {
	r := &result[V]{done: make(chan struct{}), value: value}
	close(r.done)
	return r
}

// batch collects keys for one call of the batch function.
type batch[K comparable, V any] struct {
	ctx     context.Context
	keys    []K
	results []*result[V]
	timer   *time.Timer
	once    sync.Once
}

// Loader coalesces and memoizes lookups by key. It is safe for concurrent use.
type Loader[K comparable, V any] struct {
	fetch BatchFunc[K, V]
	opts  options

	mu      sync.Mutex
	cache   map[K]*result[V]
	current *batch[K, V]
}

// New creates a Loader around fetch.
func New[K comparable, V any](fetch BatchFunc[K, V], opts ...Option) *Loader[K, V] {
	o := options{wait: DefaultWait, maxBatch: DefaultMaxBatch}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[K, V]{
		fetch: fetch,
		opts:  o,
		cache: make(map[K]*result[V]),
	}
}

// Load returns the value for key, waiting for its batch if necessary.
// A missing key yields the zero value and a nil error.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	return l.LoadThunk(ctx, key)()
}

// LoadThunk queues key without blocking and returns a function that waits for
// the value. Thunks created back to back land in the same batch.
func (l *Loader[K, V]) LoadThunk(ctx context.Context, key K) func() (V, error) {
	r := l.enqueue(ctx, key)
	return func() (V, error) {
		select {
		case <-r.done:
			return r.value, r.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
}

// LoadMany returns one value per key, in key order. Duplicate keys resolve to
// the same value. If any key's batch fails, the first such error is returned
// alongside the values that did resolve.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]V, error) {
	thunks := make([]func() (V, error), len(keys))
	for i, key := range keys {
		thunks[i] = l.LoadThunk(ctx, key)
	}
	values := make([]V, len(keys))
	var firstErr error
	for i, thunk := range thunks {
		v, err := thunk()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		values[i] = v
	}
	return values, firstErr
}

// Prime stores value for key without fetching, replacing any cached entry.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[key] = resolved(value)
}

// Clear drops key from the cache so the next Load refetches it.
// Waiters of an in-flight fetch for key still receive its result.
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, key)
}

// ClearAll drops every cached entry.
func (l *Loader[K, V]) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[K]*result[V])
}

// enqueue returns the cached result for key or adds key to the open batch.
func (l *Loader[K, V]) enqueue(ctx context.Context, key K) *result[V] {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.cache[key]; ok {
		return r
	}

	r := &result[V]{done: make(chan struct{})}
	l.cache[key] = r

	b := l.current
	if b == nil {
		b = &batch[K, V]{ctx: context.WithoutCancel(ctx)}
		l.current = b
		b.timer = time.AfterFunc(l.opts.wait, func() { l.flush(b) })
	}
	b.keys = append(b.keys, key)
	b.results = append(b.results, r)

	if l.opts.maxBatch > 0 && len(b.keys) >= l.opts.maxBatch {
		l.current = nil
		b.timer.Stop()
		go l.dispatch(b)
	}
	return r
}

// flush closes b's window if it is still the open batch, then dispatches it.
func (l *Loader[K, V]) flush(b *batch[K, V]) {
	l.mu.Lock()
	if l.current == b {
		l.current = nil
	}
	l.mu.Unlock()
	l.dispatch(b)
}

// dispatch calls the batch function once per batch and resolves every result.
func (l *Loader[K, V]) dispatch(b *batch[K, V]) {
	b.once.Do(func() {
		values, err := l.safeFetch(b)
		if err == nil && len(values) != len(b.keys) {
			err = fmt.Errorf("%w: %d values for %d keys", ErrLengthMismatch, len(values), len(b.keys))
		}

		if err != nil {
			// Failed keys are evicted so a later Load retries them.
			l.mu.Lock()
			for i, key := range b.keys {
				if l.cache[key] == b.results[i] {
					delete(l.cache, key)
				}
			}
			l.mu.Unlock()
		}

		for i, r := range b.results {
			if err != nil {
				r.err = err
			} else {
				r.value = values[i]
			}
			close(r.done)
		}
	})
}

// safeFetch converts a panicking batch function into a batch error.
func (l *Loader[K, V]) safeFetch(b *batch[K, V]) (values []V, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("loader: batch function panicked: %v", p)
		}
	}()
	return l.fetch(b.ctx, b.keys)
}
