package kvadrere

import (
	"reflect"
	"testing"
)

func TestRistrettoBoxCache(t *testing.T) {
	t.Parallel()

	cache, err := NewRistrettoBoxCache(WithMaxCost(128))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cache.Close()

	key := QuadKey("1202")
	box, err := key.Box()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := cache.Get(key); ok {
		t.Fatal("expected a miss on an empty cache")
	}

	cache.Set(key, box)
	cache.Wait()

	got, ok := cache.Get(key)
	if !ok {
		t.Fatal("expected a hit after set")
	}
	if !reflect.DeepEqual(got, box) {
		t.Errorf("expected %v, got %v", box, got)
	}

	cache.Clear()
	if _, ok := cache.Get(key); ok {
		t.Error("expected a miss after clear")
	}
}

func TestRistrettoBoxCacheInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewRistrettoBoxCache(WithMaxCost(0)); err == nil {
		t.Error("expected error for zero max cost")
	}
}
