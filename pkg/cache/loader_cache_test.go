package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

func embedLoad(calls *atomic.Int32) LoadFunc[string, []float32] {
	return func(_ context.Context, text string) ([]float32, error) {
		calls.Add(1)

		return []float32{float32(len(text))}, nil
	}
}

func TestLoaderCache_memoizes_by_value(t *testing.T) {
	var calls atomic.Int32

	c, err := NewLoaderCache[string, []float32](8, func(s string) string { return s })
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	v1, hit, err := c.GetWithStats(ctx, "ancient rome", embedLoad(&calls))
	if err != nil {
		t.Fatal(err)
	}

	if hit {
		t.Error("first lookup should miss")
	}

	v2, hit, err := c.GetWithStats(ctx, "ancient rome", embedLoad(&calls))
	if err != nil {
		t.Fatal(err)
	}

	if !hit {
		t.Error("second lookup should hit")
	}

	if &v1[0] != &v2[0] {
		t.Error("expected the memoized slice to be returned")
	}

	if calls.Load() != 1 {
		t.Errorf("load calls = %d, want 1", calls.Load())
	}

	if !c.Contains("ancient rome") || c.Contains("napoleon") {
		t.Error("Contains disagrees with cached keys")
	}
}

func TestLoaderCache_struct_keys(t *testing.T) {
	type datasetKey struct{ name, split string }

	c, err := NewLoaderCache[datasetKey, int](4, func(k datasetKey) string { return k.name + "/" + k.split })
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	load := func(_ context.Context, k datasetKey) (int, error) { return len(k.split), nil }

	got, err := c.Get(ctx, datasetKey{"rjadr/HistoryMemes", "train"}, load)
	if err != nil {
		t.Fatal(err)
	}

	if got != 5 {
		t.Errorf("got %d, want 5", got)
	}

	if !c.Contains(datasetKey{"rjadr/HistoryMemes", "train"}) {
		t.Error("expected key to be cached")
	}
}

func TestLoaderCache_concurrent_misses_share_one_load(t *testing.T) {
	var calls atomic.Int32

	c, err := NewLoaderCache[string, int](4, func(s string) string { return s })
	if err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	load := func(_ context.Context, _ string) (int, error) {
		calls.Add(1)
		<-release

		return 7, nil
	}

	const callers = 8

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)

	started.Add(callers)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			started.Done()

			v, err := c.Get(context.Background(), "img", load)
			if err != nil || v != 7 {
				t.Errorf("got (%d, %v)", v, err)
			}
		}()
	}

	started.Wait()
	close(release)
	wg.Wait()

	// Late arrivals may miss the in-flight call but then find the entry in the LRU.
	if n := calls.Load(); n < 1 || n > callers {
		t.Errorf("load calls = %d", n)
	}

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestLoaderCache_evicts_least_recent(t *testing.T) {
	c, err := NewLoaderCache[int, string](2, strconv.Itoa)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	load := func(_ context.Context, k int) (string, error) { return strconv.Itoa(k * 10), nil }

	for _, k := range []int{1, 2, 1, 3} {
		if _, err := c.Get(ctx, k, load); err != nil {
			t.Fatal(err)
		}
	}

	if c.Contains(2) {
		t.Error("key 2 should have been evicted")
	}

	if !c.Contains(1) || !c.Contains(3) {
		t.Error("keys 1 and 3 should be cached")
	}
}

func TestLoaderCache_Invalidate(t *testing.T) {
	var calls atomic.Int32

	c, err := NewLoaderCache[string, []float32](8, func(s string) string { return s })
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	_, _ = c.Get(ctx, "a", embedLoad(&calls))
	_, _ = c.Get(ctx, "b", embedLoad(&calls))

	c.Invalidate("a")

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	c.InvalidateAll()

	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}

	if _, hit, _ := c.GetWithStats(ctx, "b", embedLoad(&calls)); hit {
		t.Error("expected miss after InvalidateAll")
	}
}

func TestLoaderCache_failed_load_not_cached(t *testing.T) {
	c, err := NewLoaderCache[string, string](8, func(s string) string { return s })
	if err != nil {
		t.Fatal(err)
	}

	errFetch := errors.New("fetch failed")
	load := func(_ context.Context, _ string) (string, error) { return "", errFetch }

	if _, err := c.Get(context.Background(), "rjadr/HistoryMemes", load); !errors.Is(err, errFetch) {
		t.Errorf("got err %v", err)
	}

	if c.Len() != 0 {
		t.Error("failed load should not be cached")
	}
}
