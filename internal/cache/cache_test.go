package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	return store, &clock
}

func TestPriceKey(t *testing.T) {
	got := PriceKey("eip155:1", " 0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "0xdAC17F958D2ee523a2206206994597C13D831ec7", "10000000")
	want := "eip155:1:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48:0xdac17f958d2ee523a2206206994597c13d831ec7:10000000"
	if got != want {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestCacheSetGetFreshAndStale(t *testing.T) {
	store, clock := openTestStore(t)
	key := PriceKey("eip155:1", "usdc", "usdt", "10000000")

	if err := store.Set(key, []byte(`{"v":1}`), 30*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	res, err := store.Get(key, 5*time.Second)
	if err != nil {
		t.Fatalf("Get fresh failed: %v", err)
	}
	if !res.Hit || res.Stale {
		t.Fatalf("expected fresh hit, got %+v", res)
	}

	*clock = clock.Add(32 * time.Second)
	res, err = store.Get(key, 5*time.Second)
	if err != nil {
		t.Fatalf("Get stale failed: %v", err)
	}
	if !res.Hit || !res.Stale || res.TooStale {
		t.Fatalf("expected stale within budget, got %+v", res)
	}

	*clock = clock.Add(10 * time.Second)
	res, err = store.Get(key, 5*time.Second)
	if err != nil {
		t.Fatalf("Get too stale failed: %v", err)
	}
	if !res.TooStale {
		t.Fatalf("expected too stale, got %+v", res)
	}
}

func TestCacheMissAndPrune(t *testing.T) {
	store, clock := openTestStore(t)
	if res, err := store.Get("missing", time.Minute); err != nil || res.Hit {
		t.Fatalf("expected miss, got %+v (%v)", res, err)
	}

	if err := store.Set("k", []byte(`{}`), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	*clock = clock.Add(time.Minute)
	if err := store.Prune(0); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if res, _ := store.Get("k", -1); res.Hit {
		t.Fatal("expected pruned entry to be gone")
	}
}

func TestCacheConcurrentOpenAndSet(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "cache.db")
	lockPath := filepath.Join(tmp, "cache.lock")

	const workers = 8
	const iterations = 20

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			store, err := Open(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()

			for i := 0; i < iterations; i++ {
				key := PriceKey("eip155:8453", fmt.Sprintf("w%d", workerID), "usdc", fmt.Sprint(i))
				if err := store.Set(key, []byte(`{"ok":true}`), time.Minute); err != nil {
					errCh <- fmt.Errorf("worker %d set iter %d: %w", workerID, i, err)
					return
				}
				res, err := store.Get(key, time.Minute)
				if err != nil {
					errCh <- fmt.Errorf("worker %d get iter %d: %w", workerID, i, err)
					return
				}
				if !res.Hit {
					errCh <- fmt.Errorf("worker %d get iter %d: expected hit", workerID, i)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
