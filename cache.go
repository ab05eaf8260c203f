package kvadrere

import (
	"github.com/dgraph-io/ristretto/v2"
	"github.com/paulmach/orb"
)

const (
	DefaultRistrettoNumCounters = 10 * 500 * 1024
	DefaultRistrettoMaxCost     = 1 << 20
	DefaultRistrettoBufferItems = 64
)

// BoxCache memoizes tile boxes by quadkey.
type BoxCache interface {
	Get(key QuadKey) (orb.Polygon, bool)
	Set(key QuadKey, box orb.Polygon) bool
	Close()
	Clear()
}

// RistrettoBoxCacheOption tunes the underlying ristretto config.
type RistrettoBoxCacheOption = func(rc *ristretto.Config[string, orb.Polygon])

// WithMaxCost caps the number of boxes the cache holds.
func WithMaxCost(maxCost int64) RistrettoBoxCacheOption {
	return func(rc *ristretto.Config[string, orb.Polygon]) {
		rc.MaxCost = maxCost
		rc.NumCounters = maxCost * 10
	}
}

func NewRistrettoBoxCache(opts ...RistrettoBoxCacheOption) (*RistrettoBoxCache, error) {
	// every box costs 1, so MaxCost is a box count
	cfg := &ristretto.Config[string, orb.Polygon]{
		NumCounters:        DefaultRistrettoNumCounters,
		MaxCost:            DefaultRistrettoMaxCost,
		BufferItems:        DefaultRistrettoBufferItems,
		IgnoreInternalCost: true,
	}

	for _, o := range opts {
		o(cfg)
	}

	cache, err := ristretto.NewCache(cfg)
	if err != nil {
		return &RistrettoBoxCache{}, err
	}

	return &RistrettoBoxCache{
		cache: cache,
	}, nil
}

type RistrettoBoxCache struct {
	cache *ristretto.Cache[string, orb.Polygon]
}

var _ BoxCache = (*RistrettoBoxCache)(nil)

func (rc *RistrettoBoxCache) Get(key QuadKey) (orb.Polygon, bool) {
	return rc.cache.Get(string(key))
}

// Set stores box at cost 1. ristretto is eventually consistent, so a
// rejected Set only means the box gets recomputed later.
func (rc *RistrettoBoxCache) Set(key QuadKey, box orb.Polygon) bool {
	return rc.cache.Set(string(key), box, 1)
}

// Wait blocks until buffered writes are applied.
func (rc *RistrettoBoxCache) Wait() {
	rc.cache.Wait()
}

func (rc *RistrettoBoxCache) Close() {
	rc.cache.Close()
}

func (rc *RistrettoBoxCache) Clear() {
	rc.cache.Clear()
}
