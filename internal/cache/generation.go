package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Generations counts invalidations per id. A computation captures the
// generation before it reads its source and stores its result only while that
// generation is still current, so an invalidation that lands mid-computation
// is never overwritten by the older result.
//
// The zero value is ready to use. Generations are process local.
type Generations struct {
	mu   sync.Mutex
	gens map[string]uint64
}

// Current returns the generation of id.
func (g *Generations) Current(id string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.gens[id]
}

// Bump starts a new generation for id and returns it.
func (g *Generations) Bump(id string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.gens == nil {
		g.gens = make(map[string]uint64)
	}

	g.gens[id]++

	return g.gens[id]
}

// FlightKey names the in-flight computation of id at gen. Computations of
// different generations never share a flight.
func FlightKey(id string, gen uint64) string {
	return id + "@" + strconv.FormatUint(gen, 10)
}

// StoreJSON writes value under key when gen is still the generation of id.
// A write that races with Bump is deleted again. It reports whether the value
// was kept.
func (g *Generations) StoreJSON(
	ctx context.Context,
	c Cache,
	id string,
	gen uint64,
	key string,
	value any,
	ttl time.Duration,
) (bool, error) {
	if g.Current(id) != gen {
		return false, nil
	}

	if err := SetJSON(ctx, c, key, value, ttl); err != nil {
		return false, err
	}

	if g.Current(id) != gen {
		return false, c.Delete(ctx, key)
	}

	return true, nil
}
