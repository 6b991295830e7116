package spot

import "time"

type entry struct {
	spot Spot
	seen time.Time
}

// Registry is the in-memory dedup cache, keyed by Spot.Key.
//
// It has exactly one writer (the scrape loop) and is not safe for concurrent use.
type Registry struct {
	m map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]entry{}}
}

// Diff stores every spot of batch and returns the ones whose key was not known
// before, in batch order. A key that appears twice in batch is reported once,
// while the stored value is the last occurrence.
func (r *Registry) Diff(batch []Spot, now time.Time) []Spot {
	if len(batch) == 0 {
		return nil
	}
	var added []Spot
	for _, s := range batch {
		k := s.Key()
		if _, ok := r.m[k]; !ok {
			added = append(added, s)
		}
		r.m[k] = entry{spot: s, seen: now}
	}
	return added
}

// Prune drops entries last seen before cutoff and returns how many were removed.
// A pruned key counts as new again the next time it is scraped.
func (r *Registry) Prune(cutoff time.Time) int {
	n := 0
	for k, e := range r.m {
		if e.seen.Before(cutoff) {
			delete(r.m, k)
			n++
		}
	}
	return n
}

func (r *Registry) Get(key string) (Spot, bool) {
	e, ok := r.m[key]
	return e.spot, ok
}

func (r *Registry) Len() int { return len(r.m) }
