package loader_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jacentio/teamsync/loader"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is a batch function over a fixed data set that records its calls.
type recorder struct {
	mu    sync.Mutex
	data  map[string]string
	calls [][]string
	err   error
	short bool
}

func newRecorder(data map[string]string) *recorder {
	return &recorder{data: data}
}

func (r *recorder) fetch(_ context.Context, keys []string) ([]*string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, slices.Clone(keys))
	if r.err != nil {
		return nil, r.err
	}
	values := make([]*string, len(keys))
	for i, k := range keys {
		if v, ok := r.data[k]; ok {
			values[i] = &v
		}
	}
	if r.short {
		return values[:len(values)-1], nil
	}
	return values, nil
}

func (r *recorder) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func deref(v *string) string {
	if v == nil {
		return "<nil>"
	}
	return *v
}

func TestLoadMany_CoalescesIntoOneFetch(t *testing.T) {
	rec := newRecorder(map[string]string{"a": "A", "b": "B", "c": "C"})
	l := loader.New(rec.fetch)

	values, err := l.LoadMany(context.Background(), []string{"c", "a", "x", "a", "b"})
	if err != nil {
		t.Fatalf("load many: %v", err)
	}

	got := make([]string, len(values))
	for i, v := range values {
		got[i] = deref(v)
	}
	want := []string{"C", "A", "<nil>", "A", "B"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(calls))
	}
	if !slices.Equal(calls[0], []string{"c", "a", "x", "b"}) {
		t.Errorf("expected unique keys in first-seen order, got %v", calls[0])
	}
}

func TestLoadThunk_SharesWindow(t *testing.T) {
	rec := newRecorder(map[string]string{"a": "A", "b": "B"})
	l := loader.New(rec.fetch)
	ctx := context.Background()

	ta := l.LoadThunk(ctx, "a")
	tb := l.LoadThunk(ctx, "b")

	a, err := ta()
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	b, err := tb()
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if deref(a) != "A" || deref(b) != "B" {
		t.Errorf("unexpected values %s, %s", deref(a), deref(b))
	}
	if n := len(rec.Calls()); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestLoad_ConcurrentCallersCoalesce(t *testing.T) {
	rec := newRecorder(map[string]string{"k0": "v0", "k1": "v1", "k2": "v2", "k3": "v3"})
	l := loader.New(rec.fetch, loader.WithWait(20*time.Millisecond))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			v, err := l.Load(context.Background(), key)
			if err != nil {
				errs <- err
				return
			}
			if deref(v) != "v"+key[1:] {
				errs <- fmt.Errorf("key %s: got %s", key, deref(v))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if n := len(rec.Calls()); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestLoad_Memoizes(t *testing.T) {
	rec := newRecorder(map[string]string{"a": "A"})
	l := loader.New(rec.fetch)
	ctx := context.Background()

	first, err := l.Load(ctx, "a")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := l.Load(ctx, "a")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first != second {
		t.Error("expected the memoized value to be returned")
	}
	if n := len(rec.Calls()); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestLoad_MissingIsMemoized(t *testing.T) {
	rec := newRecorder(nil)
	l := loader.New(rec.fetch)
	ctx := context.Background()

	for range 2 {
		v, err := l.Load(ctx, "ghost")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if v != nil {
			t.Errorf("expected nil for missing key, got %s", *v)
		}
	}
	if n := len(rec.Calls()); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestPrime_SkipsFetch(t *testing.T) {
	rec := newRecorder(map[string]string{"a": "stale"})
	l := loader.New(rec.fetch)

	fresh := "fresh"
	l.Prime("a", &fresh)

	v, err := l.Load(context.Background(), "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if deref(v) != "fresh" {
		t.Errorf("expected primed value, got %s", deref(v))
	}
	if n := len(rec.Calls()); n != 0 {
		t.Errorf("expected no fetch, got %d", n)
	}
}

func TestPrime_OverwritesCachedValue(t *testing.T) {
	rec := newRecorder(map[string]string{"a": "A"})
	l := loader.New(rec.fetch)
	ctx := context.Background()

	if _, err := l.Load(ctx, "a"); err != nil {
		t.Fatalf("load: %v", err)
	}
	updated := "A2"
	l.Prime("a", &updated)

	v, err := l.Load(ctx, "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if deref(v) != "A2" {
		t.Errorf("expected primed value to replace cached one, got %s", deref(v))
	}
}

func TestClear_Refetches(t *testing.T) {
	rec := newRecorder(map[string]string{"a": "A"})
	l := loader.New(rec.fetch)
	ctx := context.Background()

	if _, err := l.Load(ctx, "a"); err != nil {
		t.Fatalf("load: %v", err)
	}
	rec.mu.Lock()
	rec.data["a"] = "A2"
	rec.mu.Unlock()

	l.Clear("a")
	v, err := l.Load(ctx, "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if deref(v) != "A2" {
		t.Errorf("expected refetched value, got %s", deref(v))
	}
	if n := len(rec.Calls()); n != 2 {
		t.Errorf("expected 2 fetches, got %d", n)
	}
}

func TestClearAll_Refetches(t *testing.T) {
	rec := newRecorder(map[string]string{"a": "A", "b": "B"})
	l := loader.New(rec.fetch)
	ctx := context.Background()

	if _, err := l.LoadMany(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("load many: %v", err)
	}
	l.ClearAll()
	if _, err := l.LoadMany(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("load many: %v", err)
	}

	calls := rec.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 fetches, got %d", len(calls))
	}
	if len(calls[1]) != 2 {
		t.Errorf("expected both keys refetched, got %v", calls[1])
	}
}

func TestBatchError_FailsAllKeysAndEvicts(t *testing.T) {
	rec := newRecorder(map[string]string{"a": "A", "b": "B"})
	rec.err = errors.New("unavailable")
	l := loader.New(rec.fetch)
	ctx := context.Background()

	ta := l.LoadThunk(ctx, "a")
	tb := l.LoadThunk(ctx, "b")
	if _, err := ta(); !errors.Is(err, rec.err) {
		t.Errorf("key a: expected batch error, got %v", err)
	}
	if _, err := tb(); !errors.Is(err, rec.err) {
		t.Errorf("key b: expected batch error, got %v", err)
	}

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()

	v, err := l.Load(ctx, "a")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if deref(v) != "A" {
		t.Errorf("expected A after retry, got %s", deref(v))
	}
	if n := len(rec.Calls()); n != 2 {
		t.Errorf("expected failed key to be refetched, got %d fetches", n)
	}
}

func TestLoadMany_ReturnsFirstError(t *testing.T) {
	rec := newRecorder(nil)
	rec.err = errors.New("boom")
	l := loader.New(rec.fetch)

	values, err := l.LoadMany(context.Background(), []string{"a", "b"})
	if !errors.Is(err, rec.err) {
		t.Fatalf("expected batch error, got %v", err)
	}
	if len(values) != 2 {
		t.Errorf("expected one slot per key, got %d", len(values))
	}
}

func TestLengthMismatch(t *testing.T) {
	rec := newRecorder(map[string]string{"a": "A", "b": "B"})
	rec.short = true
	l := loader.New(rec.fetch)

	_, err := l.LoadMany(context.Background(), []string{"a", "b"})
	if !errors.Is(err, loader.ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestBatchPanic_BecomesError(t *testing.T) {
	l := loader.New(func(context.Context, []string) ([]int, error) {
		panic("kaboom")
	})

	if _, err := l.Load(context.Background(), "a"); err == nil {
		t.Fatal("expected error from panicking batch function")
	}
}

func TestMaxBatch_SplitsBatches(t *testing.T) {
	data := make(map[string]string)
	keys := make([]string, 7)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
		data[keys[i]] = keys[i]
	}
	rec := newRecorder(data)
	l := loader.New(rec.fetch, loader.WithMaxBatch(3))

	values, err := l.LoadMany(context.Background(), keys)
	if err != nil {
		t.Fatalf("load many: %v", err)
	}
	for i, v := range values {
		if deref(v) != keys[i] {
			t.Errorf("key %s: got %s", keys[i], deref(v))
		}
	}

	calls := rec.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 fetches, got %d", len(calls))
	}
	sizes := make([]int, len(calls))
	for i, c := range calls {
		sizes[i] = len(c)
	}
	slices.Sort(sizes)
	if !slices.Equal(sizes, []int{1, 3, 3}) {
		t.Errorf("expected batch sizes [1 3 3], got %v", sizes)
	}
}

func TestLoadMany_LargeWindowIsOneFetch(t *testing.T) {
	data := make(map[string]string)
	keys := make([]string, 250)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%03d", i)
		data[keys[i]] = keys[i]
	}
	rec := newRecorder(data)
	l := loader.New(rec.fetch)

	values, err := l.LoadMany(context.Background(), keys)
	if err != nil {
		t.Fatalf("load many: %v", err)
	}
	if deref(values[249]) != "k249" {
		t.Errorf("expected k249, got %s", deref(values[249]))
	}

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 fetch, got %d", len(calls))
	}
	if len(calls[0]) != 250 {
		t.Errorf("expected 250 keys in the fetch, got %d", len(calls[0]))
	}
}

func TestLoad_CallerContextCancelled(t *testing.T) {
	release := make(chan struct{})
	var fetched atomic.Int32
	l := loader.New(func(_ context.Context, keys []string) ([]string, error) {
		<-release
		fetched.Add(1)
		return keys, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	thunk := l.LoadThunk(ctx, "a")
	cancel()

	if _, err := thunk(); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	// The fetch itself is not cancelled; a second caller still gets the value.
	close(release)
	v, err := l.Load(context.Background(), "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v != "a" {
		t.Errorf("expected a, got %s", v)
	}
	if fetched.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", fetched.Load())
	}
}
