package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFillCache_LookupHitAfterRefill(t *testing.T) {
	var calls atomic.Int32
	cache := NewFillCache(func(ctx context.Context) (map[string]string, error) {
		calls.Add(1)
		return map[string]string{"a1": "fill-a1"}, nil
	}, 10, time.Second)

	v, ok, err := cache.Lookup(context.Background(), "a1")
	if err != nil || !ok || v != "fill-a1" {
		t.Fatalf("Lookup = %q, %v, %v", v, ok, err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 refill, got %d", calls.Load())
	}

	// Second lookup is served from cache.
	if _, ok, _ := cache.Lookup(context.Background(), "a1"); !ok {
		t.Error("expected cached hit")
	}
	if calls.Load() != 1 {
		t.Errorf("cached hit should not refill, got %d calls", calls.Load())
	}
}

func TestFillCache_ConcurrentMissersShareOneRefill(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	cache := NewFillCache(func(ctx context.Context) (map[string]string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return map[string]string{"k": "v"}, nil
	}, 10, time.Second)

	const lookers = 8
	var wg sync.WaitGroup
	errs := make(chan error, lookers)
	for i := 0; i < lookers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok, err := cache.Lookup(context.Background(), "k")
			if err != nil || !ok || v != "v" {
				errs <- errors.New("bad lookup result")
			}
		}()
	}

	<-started
	// All lookers are now either waiting on the in-flight refill or about
	// to join it. Releasing it must satisfy everyone.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("expected a single coalesced refill, got %d", n)
	}
}

func TestFillCache_EmptyPageMeansAbsent(t *testing.T) {
	var calls atomic.Int32
	cache := NewFillCache(func(ctx context.Context) (map[string]string, error) {
		if calls.Add(1) == 1 {
			return map[string]string{"other": "x"}, nil
		}
		return nil, nil
	}, 10, time.Second)

	_, ok, err := cache.Lookup(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected a miss")
	}
	// One non-empty page without the key, then the empty page that ends
	// the pass.
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 refills, got %d", n)
	}
}

func TestFillCache_PageBound(t *testing.T) {
	cache := NewFillCache(func(ctx context.Context) (map[string]string, error) {
		// Always non-empty, never the wanted key.
		return map[string]string{"noise": "x"}, nil
	}, 3, time.Second)

	if _, _, err := cache.Lookup(context.Background(), "wanted"); err == nil {
		t.Fatal("expected page-bound error")
	}
}

func TestFillCache_RefillError(t *testing.T) {
	wantErr := errors.New("venue down")
	cache := NewFillCache(func(ctx context.Context) (map[string]string, error) {
		return nil, wantErr
	}, 10, time.Second)

	if _, _, err := cache.Lookup(context.Background(), "k"); !errors.Is(err, wantErr) {
		t.Fatalf("expected venue error, got %v", err)
	}
}

func TestFillCache_Purge(t *testing.T) {
	var calls atomic.Int32
	cache := NewFillCache(func(ctx context.Context) (map[string]string, error) {
		calls.Add(1)
		return map[string]string{"k": "v"}, nil
	}, 10, time.Second)

	if _, ok, _ := cache.Lookup(context.Background(), "k"); !ok {
		t.Fatal("expected hit")
	}
	cache.Purge("k")
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, len = %d", cache.Len())
	}
	if _, ok, _ := cache.Lookup(context.Background(), "k"); !ok {
		t.Fatal("expected hit after re-refill")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 refills, got %d", calls.Load())
	}
}
